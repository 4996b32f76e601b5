package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nutrilog/internal/services"
)

// Smallest valid PNG header followed by padding; enough for content sniffing.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func writePhoto(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	path := writePhoto(t, dir, "meal.png")

	a, err := m.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.MediaType != "image/png" || a.Size != int64(len(pngBytes)) {
		t.Fatalf("unexpected artifact %+v", a)
	}
	relative, err := m.Resolve("meal.png")
	if err != nil || relative.Path != path {
		t.Fatalf("relative resolve = %+v, %v", relative, err)
	}
}

func TestResolveFailures(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	if _, err := m.Resolve(""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty ref: %v", err)
	}
	if _, err := m.Resolve(filepath.Join(dir, "gone.jpg")); !errors.Is(err, services.ErrArtifactMissing) {
		t.Fatalf("missing ref: %v", err)
	}
	if _, err := m.Resolve(dir); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("directory ref: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	path := writePhoto(t, dir, "meal.png")

	deleted, err := m.Delete(path)
	if err != nil || !deleted {
		t.Fatalf("first delete = %v, %v", deleted, err)
	}
	deleted, err = m.Delete(path)
	if err != nil || deleted {
		t.Fatalf("second delete = %v, %v; want false, nil", deleted, err)
	}
}

func TestImportCopiesIntoSpool(t *testing.T) {
	src := writePhoto(t, t.TempDir(), "IMG_0001.PNG")
	spool := filepath.Join(t.TempDir(), "spool")
	m := NewManager(spool)

	ref, err := m.Import(src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if filepath.Dir(ref) != spool || !strings.HasSuffix(ref, ".png") {
		t.Fatalf("unexpected ref %q", ref)
	}
	got, err := os.ReadFile(ref)
	if err != nil || string(got) != string(pngBytes) {
		t.Fatalf("copied content mismatch: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must be left in place: %v", err)
	}
}

func TestCopyVerifiedRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := writePhoto(t, dir, "a.png")
	dst := writePhoto(t, dir, "b.png")
	if _, err := copyVerified(src, dst, 0o644); err == nil {
		t.Fatal("expected existing destination to be refused")
	}
}
