// Package artifact manages the captured photos jobs operate on. A job owns its
// artifact until the lifecycle decision either deletes it or leaves it for
// manual review.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"nutrilog/internal/services"
)

// Artifact describes a resolved photo on disk.
type Artifact struct {
	Ref       string
	Path      string
	Size      int64
	ModTime   time.Time
	MediaType string
}

// Manager resolves, imports and deletes artifacts. Refs are absolute paths;
// relative refs are taken relative to the spool directory.
type Manager struct {
	spoolDir string
}

// NewManager returns a manager rooted at spoolDir.
func NewManager(spoolDir string) *Manager {
	return &Manager{spoolDir: spoolDir}
}

// SpoolDir returns the directory imported artifacts are copied to.
func (m *Manager) SpoolDir() string {
	return m.spoolDir
}

func (m *Manager) path(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", services.Wrap(services.ErrValidation, "artifact", "resolve", "artifact reference is empty", nil)
	}
	if filepath.IsAbs(ref) || m.spoolDir == "" {
		return filepath.Clean(ref), nil
	}
	return filepath.Join(m.spoolDir, ref), nil
}

// Resolve checks that ref names a readable regular file.
func (m *Manager) Resolve(ref string) (Artifact, error) {
	path, err := m.path(ref)
	if err != nil {
		return Artifact{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, services.Wrap(services.ErrArtifactMissing, "artifact", "resolve", path, err)
	}
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrValidation, "artifact", "resolve", path, err)
	}
	if !info.Mode().IsRegular() {
		return Artifact{}, services.Wrap(services.ErrValidation, "artifact", "resolve", path+" is not a regular file", nil)
	}
	mediaType, err := sniff(path)
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrValidation, "artifact", "resolve", "read "+path, err)
	}
	return Artifact{
		Ref:       ref,
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		MediaType: mediaType,
	}, nil
}

// Read returns the artifact bytes.
func (m *Manager) Read(a Artifact) ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrArtifactMissing, "artifact", "read", a.Path, err)
	}
	return data, err
}

// Delete removes the artifact. It returns false without error when the file
// is already gone.
func (m *Manager) Delete(ref string) (bool, error) {
	path, err := m.path(ref)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete artifact %s: %w", path, err)
	}
	return true, nil
}

// Import copies src into the spool directory under a fresh name and returns
// the new reference. The source is left untouched.
func (m *Manager) Import(src string) (string, error) {
	if m.spoolDir == "" {
		return "", services.Wrap(services.ErrConfiguration, "artifact", "import", "spool directory not configured", nil)
	}
	if _, err := m.Resolve(src); err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(src))
	dst := filepath.Join(m.spoolDir, uuid.NewString()+ext)
	if _, err := copyVerified(src, dst, 0o640); err != nil {
		return "", fmt.Errorf("import %s: %w", src, err)
	}
	return dst, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
