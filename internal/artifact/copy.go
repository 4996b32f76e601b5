package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// copyVerified copies src to a new file at dst, fsyncs it, then re-reads dst
// from disk and compares size and SHA-256 with what was read from src. dst is
// removed on any failure. It returns the hex digest.
func copyVerified(src, dst string, mode os.FileMode) (digest string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	srcHash := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHash))
	if err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	if err = out.Sync(); err != nil {
		return "", fmt.Errorf("sync: %w", err)
	}
	if err = out.Close(); err != nil {
		return "", fmt.Errorf("close: %w", err)
	}

	dstSum, dstSize, err := hashFile(dst)
	if err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}
	if dstSize != written {
		err = fmt.Errorf("copy size mismatch: read %d bytes, destination has %d", written, dstSize)
		return "", err
	}
	if srcSum := hex.EncodeToString(srcHash.Sum(nil)); srcSum != dstSum {
		err = fmt.Errorf("copy hash mismatch: destination differs from source")
		return "", err
	}
	return dstSum, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
