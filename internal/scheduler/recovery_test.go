package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"nutrilog/internal/queue"
	"nutrilog/internal/retry"
	"nutrilog/internal/scheduler"
)

// seedRunning leaves a job in the running status as a crashed daemon would.
func seedRunning(t *testing.T, h *harness, ref string, attempts int, heartbeat time.Time) string {
	t.Helper()
	ctx := context.Background()
	id := h.enqueue(ref)
	for i := 0; i < attempts; i++ {
		if _, err := h.store.MarkAttempt(ctx, id, heartbeat); err != nil {
			t.Fatalf("MarkAttempt: %v", err)
		}
		if i < attempts-1 {
			if err := h.store.Reschedule(ctx, id, heartbeat, queue.Failure{Message: "timeout", Category: retry.CategoryTimeout}); err != nil {
				t.Fatalf("Reschedule: %v", err)
			}
		}
	}
	return id
}

func TestRecoveryRetriesInterruptedAttempt(t *testing.T) {
	h := newHarness(t)
	id := seedRunning(t, h, h.photo("meal.jpg"), 1, time.Now())
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusSucceeded || job.AttemptCount != 2 {
		t.Fatalf("interrupted attempt must count, got %v", job)
	}
	history, err := h.store.History(context.Background(), id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var interrupted bool
	for _, ev := range history {
		if ev.Kind == queue.EventRetryScheduled {
			interrupted = true
		}
	}
	if !interrupted {
		t.Fatal("expected a retry event for the interrupted attempt")
	}
}

func TestRecoveryExhaustsAtCeiling(t *testing.T) {
	h := newHarness(t)
	ref := h.photo("meal.jpg")
	id := seedRunning(t, h, ref, 4, time.Now())
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || job.AttemptCount != 4 || job.ErrorCategory != retry.CategoryExhausted {
		t.Fatalf("unexpected job %v (%s)", job, job.ErrorCategory)
	}
	if h.analyzer.Calls() != 0 {
		t.Fatal("no attempt may run past the ceiling")
	}
	if h.deleter.Deletions(ref) != 1 {
		t.Fatal("exhausted job must delete its artifact")
	}
}

func TestRecoveryResumesRecordedDecision(t *testing.T) {
	h := newHarness(t)
	ref := h.photo("meal.jpg")
	id := seedRunning(t, h, ref, 1, time.Now())
	fin := queue.Finalization{Status: queue.StatusSucceeded, Decision: queue.DecisionDelete, StorageID: "rec-1", Calories: 300}
	if err := h.store.RecordDecision(context.Background(), id, fin, time.Now()); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusSucceeded || job.StorageID != "rec-1" || !job.ArtifactDeleted {
		t.Fatalf("unexpected job %v", job)
	}
	if h.analyzer.Calls() != 0 || len(h.recorder.Requests()) != 0 {
		t.Fatal("resumed finalization must not re-run the attempt")
	}
}

func TestReplayedDeleteOnAbsentArtifact(t *testing.T) {
	h := newHarness(t)
	ref := h.photo("meal.jpg")
	id := seedRunning(t, h, ref, 1, time.Now())
	fin := queue.Finalization{Status: queue.StatusFailed, Decision: queue.DecisionDelete,
		Failure: queue.Failure{Message: "bad", Category: retry.CategoryRejected}}
	if err := h.store.RecordDecision(context.Background(), id, fin, time.Now()); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	// The crash happened after the delete but before Finalize.
	if _, err := h.files.Delete(ref); err != nil {
		t.Fatal(err)
	}
	h.start()

	job := h.waitTerminal(id)
	if job.Status != queue.StatusFailed || !job.ArtifactDeleted {
		t.Fatalf("unexpected job %v", job)
	}
	if h.deleter.Deletions(ref) != 0 {
		t.Fatal("replay must not count a second deletion")
	}
}

func TestSharedStoreOnlyReclaimsStaleJobs(t *testing.T) {
	settings := testSettings()
	settings.SharedStore = true
	settings.HeartbeatTimeout = time.Hour
	h := newHarnessWithSettings(t, settings)

	fresh := seedRunning(t, h, h.photo("fresh.jpg"), 1, time.Now())
	stale := seedRunning(t, h, h.photo("stale.jpg"), 1, time.Now().Add(-2*time.Hour))
	h.start()

	if job := h.waitTerminal(stale); job.Status != queue.StatusSucceeded {
		t.Fatalf("stale job not reclaimed: %v", job)
	}
	time.Sleep(100 * time.Millisecond)
	job, _ := h.store.Get(context.Background(), fresh)
	if job.Status != queue.StatusRunning || job.AttemptCount != 1 {
		t.Fatalf("job owned by another daemon was touched: %v", job)
	}
}

func TestRetryRequeuesRetainedJob(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errForbidden
	ref := h.photo("meal.jpg")
	id := h.enqueue(ref)
	h.start()
	if job := h.waitTerminal(id); job.Decision != queue.DecisionRetain {
		t.Fatalf("expected retained job, got %v", job)
	}

	h.recorder.mu.Lock()
	h.recorder.err = nil
	h.recorder.mu.Unlock()

	results, err := h.sched.Retry(context.Background(), id, "unknown")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(results) != 2 || results[0].Err != nil || results[0].NewJobID == "" {
		t.Fatalf("unexpected results %+v", results)
	}
	if !errors.Is(results[1].Err, queue.ErrJobNotFound) {
		t.Fatalf("unknown id: %v", results[1].Err)
	}

	retried := h.waitTerminal(results[0].NewJobID)
	if retried.Status != queue.StatusSucceeded || retried.Input.ArtifactRef != ref || retried.Input.Source != "retry:"+id {
		t.Fatalf("unexpected retried job %v %+v", retried, retried.Input)
	}

	again, err := h.sched.Retry(context.Background(), retried.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !errors.Is(again[0].Err, scheduler.ErrNotRetryable) {
		t.Fatalf("succeeded job must not be retryable: %v", again[0].Err)
	}
}

func TestRetryAcceptsEachFailureOnce(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errForbidden
	id := h.enqueue(h.photo("meal.jpg"))
	h.start()
	if job := h.waitTerminal(id); job.Decision != queue.DecisionRetain {
		t.Fatalf("expected retained job, got %v", job)
	}
	h.recorder.mu.Lock()
	h.recorder.err = nil
	h.recorder.mu.Unlock()
	saves := len(h.recorder.Requests())

	first, err := h.sched.Retry(context.Background(), id)
	if err != nil || first[0].Err != nil {
		t.Fatalf("first Retry: %v %+v", err, first)
	}
	second, err := h.sched.Retry(context.Background(), id)
	if err != nil {
		t.Fatalf("second Retry: %v", err)
	}
	if !errors.Is(second[0].Err, scheduler.ErrNotRetryable) || second[0].NewJobID != "" {
		t.Fatalf("second Retry must be refused: %+v", second[0])
	}

	if job := h.waitTerminal(first[0].NewJobID); job.Status != queue.StatusSucceeded {
		t.Fatalf("unexpected retried job %v", job)
	}
	jobs, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected the source and one retry, got %d jobs", len(jobs))
	}
	if got := len(h.recorder.Requests()) - saves; got != 1 {
		t.Fatalf("storage saved %d times for the retry, want 1", got)
	}
	source, _ := h.store.Get(context.Background(), id)
	if source.RetriedBy != first[0].NewJobID {
		t.Fatalf("source not linked to its retry: %q", source.RetriedBy)
	}
}
