package scheduler_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"nutrilog/internal/connectivity"
	"nutrilog/internal/events"
	"nutrilog/internal/queue"
	"nutrilog/internal/retry"
	"nutrilog/internal/scheduler"
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSuccessOnFirstAttempt(t *testing.T) {
	h := newHarness(t)
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusSucceeded || job.AttemptCount != 1 {
		t.Fatalf("unexpected job %v", job)
	}
	if job.Decision != queue.DecisionDelete || !job.ArtifactDeleted {
		t.Fatalf("expected delete decision applied, got %q deleted=%t", job.Decision, job.ArtifactDeleted)
	}
	if fileExists(ref) || h.deleter.Deletions(ref) != 1 {
		t.Fatalf("artifact should be deleted exactly once, deletions=%d", h.deleter.Deletions(ref))
	}
	if job.Calories != 540 || job.StorageID == "" {
		t.Fatalf("record not stored on job: %+v", job)
	}
	reqs := h.recorder.Requests()
	if len(reqs) != 1 || !reqs[0].RecordedAt.Equal(job.Input.CapturedAt) || reqs[0].IdempotencyKey != id {
		t.Fatalf("save must use the capture timestamp and job id: %+v", reqs)
	}
}

func TestRetryableThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.analyzer.errs = []error{errTimeout, errTimeout}
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusSucceeded || job.AttemptCount != 3 {
		t.Fatalf("unexpected job %v", job)
	}
	retries := h.events.OfType(events.TypeRetryScheduled, id)
	want := []time.Duration{testDelay, 2 * testDelay}
	if len(retries) != len(want) {
		t.Fatalf("expected %d retries, got %d", len(want), len(retries))
	}
	for i, ev := range retries {
		if got := ev.NextAttemptAt.Sub(ev.Timestamp); got != want[i] {
			t.Errorf("retry %d delay = %s, want %s", i+1, got, want[i])
		}
		if ev.Category != retry.CategoryTimeout {
			t.Errorf("retry %d category = %q", i+1, ev.Category)
		}
	}
	if h.deleter.Deletions(ref) != 1 {
		t.Fatalf("artifact deleted %d times", h.deleter.Deletions(ref))
	}
}

func TestTerminalAnalysisFailureFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.analyzer.errs = []error{errMalformed}
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || job.AttemptCount != 1 {
		t.Fatalf("unexpected job %v", job)
	}
	if job.ErrorCategory != retry.CategoryMalformedResponse {
		t.Fatalf("category = %q", job.ErrorCategory)
	}
	if len(h.events.OfType(events.TypeRetryScheduled, id)) != 0 {
		t.Fatal("terminal failure must not be rescheduled")
	}
	if fileExists(ref) || !job.ArtifactDeleted {
		t.Fatal("artifact should be deleted after a terminal failure")
	}
	if len(h.recorder.Requests()) != 0 {
		t.Fatal("storage must not be called after a failed analysis")
	}
}

func TestRetriesExhaustedAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.analyzer.errs = []error{errOffline, errOffline, errOffline, errOffline}
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || job.AttemptCount != 4 {
		t.Fatalf("unexpected job %v", job)
	}
	if job.ErrorCategory != retry.CategoryExhausted {
		t.Fatalf("category = %q", job.ErrorCategory)
	}
	if h.analyzer.Calls() != 4 {
		t.Fatalf("analyzer called %d times, want 4", h.analyzer.Calls())
	}
	retries := h.events.OfType(events.TypeRetryScheduled, id)
	want := []time.Duration{testDelay, 2 * testDelay, 4 * testDelay}
	if len(retries) != len(want) {
		t.Fatalf("expected %d retries, got %d", len(want), len(retries))
	}
	for i, ev := range retries {
		if got := ev.NextAttemptAt.Sub(ev.Timestamp); got != want[i] {
			t.Errorf("retry %d delay = %s, want %s", i+1, got, want[i])
		}
	}
	if h.deleter.Deletions(ref) != 1 || fileExists(ref) {
		t.Fatalf("artifact should be deleted exactly once, got %d", h.deleter.Deletions(ref))
	}
}

func TestPermissionDeniedRetainsArtifact(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errForbidden
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || job.AttemptCount != 1 {
		t.Fatalf("unexpected job %v", job)
	}
	if job.Decision != queue.DecisionRetain || job.ArtifactDeleted {
		t.Fatalf("expected retain, got %q deleted=%t", job.Decision, job.ArtifactDeleted)
	}
	if !fileExists(ref) {
		t.Fatal("retained artifact was deleted")
	}
	failed := h.events.OfType(events.TypeFailed, id)
	if len(failed) != 1 || !failed[0].Retained() {
		t.Fatalf("expected one retained failure event, got %+v", failed)
	}
}

func TestOtherStorageFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errStorageDown
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || job.AttemptCount != 1 || job.Decision != queue.DecisionDelete {
		t.Fatalf("unexpected job %v decision=%q", job, job.Decision)
	}
	if h.analyzer.Calls() != 1 {
		t.Fatal("storage failures must not re-run analysis")
	}
}

func TestMissingArtifactFailsWithoutNetworkCalls(t *testing.T) {
	h := newHarness(t)
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	if err := os.Remove(ref); err != nil {
		t.Fatal(err)
	}
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || job.AttemptCount != 1 {
		t.Fatalf("unexpected job %v", job)
	}
	if job.ErrorCategory != retry.CategoryArtifactMissing {
		t.Fatalf("category = %q", job.ErrorCategory)
	}
	if h.analyzer.Calls() != 0 || len(h.recorder.Requests()) != 0 {
		t.Fatal("no network call may happen for a missing artifact")
	}
	if job.Decision != queue.DecisionDelete || h.deleter.Deletions(ref) != 0 {
		t.Fatal("delete decision on a missing artifact must be a no-op")
	}
}

func TestNoDuplicateExecutionUnderLoad(t *testing.T) {
	h := newHarness(t)
	h.analyzer.hold = 30 * time.Millisecond
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, h.enqueue(h.photo("meal"+string(rune('a'+i))+".jpg")))
	}
	h.start()

	for _, id := range ids {
		job := h.waitTerminal(id)
		if job.Status != queue.StatusSucceeded || job.AttemptCount != 1 {
			t.Fatalf("unexpected job %v", job)
		}
	}
	if h.analyzer.duplicate.Load() {
		t.Fatal("two attempts of the same job overlapped")
	}
	if peak := h.analyzer.maxSeen.Load(); peak > 2 {
		t.Fatalf("more attempts in flight (%d) than workers", peak)
	}
}

func TestGateHoldsNetworkJobs(t *testing.T) {
	gate := connectivity.NewSwitch(false)
	wake := make(chan struct{}, 1)
	h := newHarness(t, scheduler.WithGate(gate), scheduler.WithGateWakeups(wake))
	id := h.enqueue(h.photo("meal.jpg"))
	h.start()

	time.Sleep(150 * time.Millisecond)
	job, _ := h.store.Get(context.Background(), id)
	if job.Status != queue.StatusEnqueued || job.AttemptCount != 0 {
		t.Fatalf("gated job was dispatched: %v", job)
	}
	if h.sched.Status(context.Background()).Online {
		t.Fatal("status should report the gate offline")
	}

	gate.Set(true)
	wake <- struct{}{}
	if job := h.waitTerminal(id); job.Status != queue.StatusSucceeded {
		t.Fatalf("unexpected job %v", job)
	}
}

func TestOfflineJobRunsBehindGatedNetworkJobs(t *testing.T) {
	h := newHarness(t, scheduler.WithGate(connectivity.NewSwitch(false)))
	var gated []string
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		gated = append(gated, h.enqueue(h.photo(name)))
	}
	local, err := h.sched.Enqueue(context.Background(), queue.Input{
		ArtifactRef: h.photo("local.jpg"),
		CapturedAt:  time.Date(2026, 3, 14, 12, 31, 0, 0, time.UTC),
		Source:      "test",
	}, queue.Constraints{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start()

	if job := h.waitTerminal(local); job.Status != queue.StatusSucceeded {
		t.Fatalf("offline job did not run: %v", job)
	}
	for _, id := range gated {
		job, _ := h.store.Get(context.Background(), id)
		if job.Status != queue.StatusEnqueued || job.AttemptCount != 0 {
			t.Fatalf("network job ran while offline: %v", job)
		}
	}
}

func TestEnqueueValidation(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, scheduler.WithClock(func() time.Time { return now }))
	ref := h.photo("meal.jpg")

	tests := []struct {
		name  string
		input queue.Input
		field string
	}{
		{"empty ref", queue.Input{CapturedAt: now}, "artifact_ref"},
		{"missing file", queue.Input{ArtifactRef: ref + ".gone", CapturedAt: now}, "artifact_ref"},
		{"zero timestamp", queue.Input{ArtifactRef: ref}, "captured_at"},
		{"future timestamp", queue.Input{ArtifactRef: ref, CapturedAt: now.Add(time.Hour)}, "captured_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.sched.Enqueue(context.Background(), tt.input, queue.Constraints{})
			var invalid *scheduler.InvalidJobError
			if !errors.As(err, &invalid) || !errors.Is(err, scheduler.ErrInvalidJob) {
				t.Fatalf("expected InvalidJobError, got %v", err)
			}
			if invalid.Field != tt.field {
				t.Fatalf("field = %q, want %q", invalid.Field, tt.field)
			}
		})
	}

	skewed := queue.Input{ArtifactRef: ref, CapturedAt: now.Add(scheduler.MaxCaptureSkew - time.Second)}
	id, err := h.sched.Enqueue(context.Background(), skewed, queue.Constraints{})
	if err != nil {
		t.Fatalf("timestamp within skew rejected: %v", err)
	}
	job, _ := h.store.Get(context.Background(), id)
	if job == nil || job.Status != queue.StatusEnqueued || job.MaxAttempts != 4 {
		t.Fatalf("job not persisted as enqueued: %v", job)
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t)
	h.start()
	if err := h.sched.Start(context.Background()); err == nil {
		t.Fatal("expected error starting twice")
	}
	status := h.sched.Status(context.Background())
	if !status.Running || status.Workers != 2 || !status.Health.Ready {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestPurgeRemovesOnlyOldFinalizedJobs(t *testing.T) {
	h := newHarness(t)
	done := h.enqueue(h.photo("old.jpg"))
	h.start()
	h.waitTerminal(done)

	ctx := context.Background()
	if removed, err := h.sched.Purge(ctx, 0); err != nil || removed != 0 {
		t.Fatalf("no retention configured: removed=%d err=%v", removed, err)
	}
	if removed, err := h.sched.Purge(ctx, time.Hour); err != nil || removed != 0 {
		t.Fatalf("recent job must survive: removed=%d err=%v", removed, err)
	}

	time.Sleep(5 * time.Millisecond)
	removed, err := h.sched.Purge(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged job, got %d", removed)
	}
	if job, _ := h.store.Get(ctx, done); job != nil {
		t.Fatalf("purged job still present: %v", job)
	}
	if history, _ := h.store.History(ctx, done); len(history) == 0 {
		t.Fatal("history must survive purge")
	}
}
