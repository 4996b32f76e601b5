package submit_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nutrilog/internal/artifact"
	"nutrilog/internal/queue"
	"nutrilog/internal/submit"
	"nutrilog/internal/testsupport"
)

type fakeEnqueuer struct {
	err         error
	input       queue.Input
	constraints queue.Constraints
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, input queue.Input, c queue.Constraints) (string, error) {
	f.input = input
	f.constraints = c
	if f.err != nil {
		return "", f.err
	}
	return "job-1", nil
}

func TestSubmitUsesModTimeAndOriginalPath(t *testing.T) {
	dir := t.TempDir()
	photo := testsupport.WritePhoto(t, dir, "lunch.JPG")
	mtime := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	if err := os.Chtimes(photo, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	enq := &fakeEnqueuer{}
	s := submit.New(artifact.NewManager(filepath.Join(dir, "spool")), enq)

	res, err := s.Submit(context.Background(), submit.Request{Path: photo})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID != "job-1" || res.ArtifactRef != photo || res.Imported {
		t.Fatalf("unexpected result %+v", res)
	}
	if !enq.input.CapturedAt.Equal(mtime) || enq.input.Source != "submit" || !enq.constraints.RequiresNetwork {
		t.Fatalf("unexpected input %+v %+v", enq.input, enq.constraints)
	}
}

func TestSubmitImportsIntoSpool(t *testing.T) {
	dir := t.TempDir()
	spool := filepath.Join(dir, "spool")
	photo := testsupport.WritePhoto(t, dir, "dinner.jpg")
	captured := time.Date(2026, 3, 14, 19, 0, 0, 0, time.FixedZone("CET", 3600))
	enq := &fakeEnqueuer{}
	s := submit.New(artifact.NewManager(spool), enq)

	res, err := s.Submit(context.Background(), submit.Request{Path: photo, Import: true, CapturedAt: captured, Offline: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Imported || filepath.Dir(res.ArtifactRef) != spool {
		t.Fatalf("photo not imported: %+v", res)
	}
	if _, err := os.Stat(photo); err != nil {
		t.Fatal("source photo must be left untouched")
	}
	if res.CapturedAt.Location() != time.UTC || !res.CapturedAt.Equal(captured) || enq.constraints.RequiresNetwork {
		t.Fatalf("unexpected capture or constraints: %v %+v", res.CapturedAt, enq.constraints)
	}
}

func TestSubmitRollsBackImportOnEnqueueFailure(t *testing.T) {
	dir := t.TempDir()
	spool := filepath.Join(dir, "spool")
	photo := testsupport.WritePhoto(t, dir, "snack.png")
	enq := &fakeEnqueuer{err: errors.New("store closed")}
	s := submit.New(artifact.NewManager(spool), enq)

	if _, err := s.Submit(context.Background(), submit.Request{Path: photo, Import: true}); err == nil {
		t.Fatal("expected enqueue error")
	}
	entries, _ := os.ReadDir(spool)
	if len(entries) != 0 {
		t.Fatalf("imported copy left behind: %v", entries)
	}
}

func TestSubmitRejectsBadPaths(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	testsupport.WriteFile(t, text, 10)
	s := submit.New(artifact.NewManager(dir), &fakeEnqueuer{})

	for _, path := range []string{"", filepath.Join(dir, "missing.jpg"), dir, text} {
		if _, err := s.Submit(context.Background(), submit.Request{Path: path}); !errors.Is(err, submit.ErrInvalidPhoto) {
			t.Errorf("expected ErrInvalidPhoto for %q, got %v", path, err)
		}
	}
}
