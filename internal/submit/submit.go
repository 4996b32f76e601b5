// Package submit turns a photo on disk into an enqueued job.
package submit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nutrilog/internal/artifact"
	"nutrilog/internal/queue"
)

var photoExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".heic": {},
}

// ErrInvalidPhoto matches submissions rejected before a job is created.
var ErrInvalidPhoto = errors.New("invalid photo")

// Enqueuer accepts validated job input.
type Enqueuer interface {
	Enqueue(ctx context.Context, input queue.Input, constraints queue.Constraints) (string, error)
}

// Files imports photos into the spool and removes them on rollback.
type Files interface {
	Resolve(ref string) (artifact.Artifact, error)
	Import(src string) (string, error)
	Delete(ref string) (bool, error)
}

// Request describes one photo submission.
type Request struct {
	Path string
	// CapturedAt defaults to the file modification time when zero.
	CapturedAt time.Time
	// Import copies the photo into the spool so the job owns its artifact.
	Import bool
	Source string
	// Offline marks jobs that may run without the network constraint.
	Offline bool
}

// Result reports the created job.
type Result struct {
	JobID       string
	ArtifactRef string
	CapturedAt  time.Time
	Imported    bool
}

// Submitter builds job inputs from photo paths.
type Submitter struct {
	files    Files
	enqueuer Enqueuer
}

// New constructs a submitter.
func New(files Files, enqueuer Enqueuer) *Submitter {
	return &Submitter{files: files, enqueuer: enqueuer}
}

// Submit resolves, optionally imports and enqueues the photo at req.Path.
func (s *Submitter) Submit(ctx context.Context, req Request) (Result, error) {
	path, err := filepath.Abs(strings.TrimSpace(req.Path))
	if err != nil || strings.TrimSpace(req.Path) == "" {
		return Result{}, fmt.Errorf("%w: resolve path %q", ErrInvalidPhoto, req.Path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: file does not exist: %s", ErrInvalidPhoto, path)
		}
		return Result{}, fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is a directory", ErrInvalidPhoto, path)
	}
	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := photoExtensions[ext]; !ok {
		return Result{}, fmt.Errorf("%w: unsupported extension %q", ErrInvalidPhoto, ext)
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = info.ModTime()
	}
	result := Result{ArtifactRef: path, CapturedAt: capturedAt.UTC()}

	if req.Import {
		ref, err := s.files.Import(path)
		if err != nil {
			return Result{}, err
		}
		result.ArtifactRef = ref
		result.Imported = true
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "submit"
	}
	id, err := s.enqueuer.Enqueue(ctx, queue.Input{
		ArtifactRef: result.ArtifactRef,
		CapturedAt:  result.CapturedAt,
		Source:      source,
	}, queue.Constraints{RequiresNetwork: !req.Offline})
	if err != nil {
		if result.Imported {
			_, _ = s.files.Delete(result.ArtifactRef)
		}
		return Result{}, err
	}
	result.JobID = id
	return result, nil
}
