package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// jpegHeader is enough for content sniffing to report image/jpeg.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// WritePhoto writes a 512 byte file that sniffs as a JPEG and returns its path.
func WritePhoto(t testing.TB, dir, name string) string {
	t.Helper()
	body := append(bytes.Clone(jpegHeader), bytes.Repeat([]byte{0x42}, 512-len(jpegHeader))...)
	return writeBytes(t, filepath.Join(dir, name), body)
}

// WriteFile writes size filler bytes to path, creating parent directories.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	writeBytes(t, path, bytes.Repeat([]byte{0x42}, int(max(size, 1))))
}

func writeBytes(t testing.TB, path string, body []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
