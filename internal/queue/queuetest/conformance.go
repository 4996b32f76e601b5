// Package queuetest holds the behaviour every queue.Store backend must share.
package queuetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"nutrilog/internal/queue"
)

// Factory returns a fresh, empty store. Cleanup is the factory's concern.
type Factory func(t *testing.T) queue.Store

// NewJob builds an unsaved job with a unique id.
func NewJob(artifactRef string) *queue.Job {
	return &queue.Job{
		ID: uuid.NewString(),
		Input: queue.Input{
			ArtifactRef: artifactRef,
			CapturedAt:  time.Date(2026, 3, 14, 12, 30, 0, 123456000, time.UTC),
			Source:      "test",
		},
		Constraints: queue.Constraints{RequiresNetwork: true},
		MaxAttempts: queue.DefaultMaxAttempts,
	}
}

// Run executes the conformance suite against the store produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, store queue.Store)
	}{
		{"EnqueuePersistsInput", testEnqueuePersistsInput},
		{"EnqueueRejectsDuplicate", testEnqueueRejectsDuplicate},
		{"GetUnknownReturnsNil", testGetUnknownReturnsNil},
		{"MarkAttemptIsSingleFlight", testMarkAttemptIsSingleFlight},
		{"RescheduleGatesNextReady", testRescheduleGatesNextReady},
		{"NextReadyFiltersBeforeLimit", testNextReadyFiltersBeforeLimit},
		{"RequeueRetainedFailureOnce", testRequeueRetainedFailureOnce},
		{"RequeueRefusesIneligible", testRequeueRefusesIneligible},
		{"AttemptCeiling", testAttemptCeiling},
		{"FinalizeIsAbsorbing", testFinalizeIsAbsorbing},
		{"TransitionsRequireRunning", testTransitionsRequireRunning},
		{"PurgeKeepsHistory", testPurgeKeepsHistory},
		{"StatsAndRunning", testStatsAndRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustEnqueue(t *testing.T, store queue.Store, ref string) *queue.Job {
	t.Helper()
	job := NewJob(ref)
	if err := store.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func mustGet(t *testing.T, store queue.Store, id string) *queue.Job {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s not found", id)
	}
	return job
}

func testEnqueuePersistsInput(t *testing.T, store queue.Store) {
	job := mustEnqueue(t, store, "/spool/a.jpg")
	got := mustGet(t, store, job.ID)

	if got.Status != queue.StatusEnqueued || got.AttemptCount != 0 {
		t.Fatalf("unexpected initial state %s attempt=%d", got.Status, got.AttemptCount)
	}
	if got.Input.ArtifactRef != "/spool/a.jpg" || got.Input.Source != "test" {
		t.Fatalf("unexpected input %+v", got.Input)
	}
	if !got.Input.CapturedAt.Equal(job.Input.CapturedAt) {
		t.Fatalf("captured at = %v, want %v", got.Input.CapturedAt, job.Input.CapturedAt)
	}
	if !got.Constraints.RequiresNetwork || got.MaxAttempts != queue.DefaultMaxAttempts {
		t.Fatalf("unexpected constraints/max attempts: %+v %d", got.Constraints, got.MaxAttempts)
	}

	history, err := store.History(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Kind != queue.EventEnqueued {
		t.Fatalf("expected one enqueued event, got %+v", history)
	}
}

func testEnqueueRejectsDuplicate(t *testing.T, store queue.Store) {
	job := mustEnqueue(t, store, "/spool/a.jpg")
	dup := NewJob("/spool/b.jpg")
	dup.ID = job.ID
	if err := store.Enqueue(context.Background(), dup); !errors.Is(err, queue.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func testGetUnknownReturnsNil(t *testing.T, store queue.Store) {
	job, err := store.Get(context.Background(), "missing")
	if err != nil || job != nil {
		t.Fatalf("expected nil, nil; got %v, %v", job, err)
	}
}

func testMarkAttemptIsSingleFlight(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := mustEnqueue(t, store, "/spool/a.jpg")

	running, err := store.MarkAttempt(ctx, job.ID, time.Now())
	if err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	if running.Status != queue.StatusRunning || running.AttemptCount != 1 || running.HeartbeatAt == nil {
		t.Fatalf("unexpected running job %+v", running)
	}
	if _, err := store.MarkAttempt(ctx, job.ID, time.Now()); !errors.Is(err, queue.ErrNotDispatchable) {
		t.Fatalf("expected ErrNotDispatchable for second attempt, got %v", err)
	}
	if _, err := store.MarkAttempt(ctx, "missing", time.Now()); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func testRescheduleGatesNextReady(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := mustEnqueue(t, store, "/spool/a.jpg")
	now := time.Now().UTC().Truncate(time.Microsecond)

	ready, err := store.NextReady(ctx, now, 10, queue.ReadyFilter{})
	if err != nil || len(ready) != 1 {
		t.Fatalf("expected enqueued job ready, got %d (%v)", len(ready), err)
	}
	if _, err := store.MarkAttempt(ctx, job.ID, now); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	due := now.Add(time.Second)
	cause := queue.Failure{Message: "dial tcp: refused", Category: "connectivity"}
	if err := store.Reschedule(ctx, job.ID, due, cause); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	if ready, _ := store.NextReady(ctx, now, 10, queue.ReadyFilter{}); len(ready) != 0 {
		t.Fatalf("job must not be ready before its retry time, got %d", len(ready))
	}
	if ready, _ := store.NextReady(ctx, due, 10, queue.ReadyFilter{}); len(ready) != 1 {
		t.Fatalf("job must be ready at its retry time, got %d", len(ready))
	}
	wake, err := store.NextWakeup(ctx)
	if err != nil || wake == nil || !wake.Equal(due) {
		t.Fatalf("NextWakeup = %v (%v), want %v", wake, err, due)
	}

	got := mustGet(t, store, job.ID)
	if got.Status != queue.StatusAwaitingRetry || got.LastError != cause.Message || got.ErrorCategory != cause.Category {
		t.Fatalf("unexpected rescheduled job %+v", got)
	}
}

func testNextReadyFiltersBeforeLimit(t *testing.T, store queue.Store) {
	ctx := context.Background()
	for _, ref := range []string{"/spool/a.jpg", "/spool/b.jpg", "/spool/c.jpg"} {
		mustEnqueue(t, store, ref)
	}
	offline := NewJob("/spool/offline.jpg")
	offline.Constraints.RequiresNetwork = false
	if err := store.Enqueue(ctx, offline); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	now := time.Now().UTC()

	all, err := store.NextReady(ctx, now, 2, queue.ReadyFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("unfiltered NextReady = %d (%v), want 2", len(all), err)
	}
	ready, err := store.NextReady(ctx, now, 2, queue.ReadyFilter{Offline: true})
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != offline.ID {
		t.Fatalf("offline NextReady must return only the ungated job, got %v", ready)
	}
}

// finishRetained drives a fresh job to failed with its artifact kept.
func finishRetained(t *testing.T, store queue.Store, ref string) *queue.Job {
	t.Helper()
	ctx := context.Background()
	job := mustEnqueue(t, store, ref)
	now := time.Now().UTC()
	if _, err := store.MarkAttempt(ctx, job.ID, now); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	fin := queue.Finalization{Status: queue.StatusFailed, Decision: queue.DecisionRetain, Failure: queue.Failure{Message: "storage rejected record"}}
	if err := store.RecordDecision(ctx, job.ID, fin, now); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if _, err := store.Finalize(ctx, job.ID, false, now); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return mustGet(t, store, job.ID)
}

func testRequeueRetainedFailureOnce(t *testing.T, store queue.Store) {
	ctx := context.Background()
	source := finishRetained(t, store, "/spool/a.jpg")

	first := NewJob(source.Input.ArtifactRef)
	if err := store.Requeue(ctx, source.ID, first); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if got := mustGet(t, store, first.ID); got.Status != queue.StatusEnqueued || got.Input.ArtifactRef != "/spool/a.jpg" {
		t.Fatalf("unexpected requeued job %+v", got)
	}
	if got := mustGet(t, store, source.ID); got.RetriedBy != first.ID || got.Status != queue.StatusFailed {
		t.Fatalf("source not stamped: %+v", got)
	}

	second := NewJob(source.Input.ArtifactRef)
	if err := store.Requeue(ctx, source.ID, second); !errors.Is(err, queue.ErrNotRetryable) {
		t.Fatalf("second Requeue = %v, want ErrNotRetryable", err)
	}
	if got, _ := store.Get(ctx, second.ID); got != nil {
		t.Fatalf("refused requeue must not insert a job, got %+v", got)
	}

	history, err := store.History(ctx, source.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	last := history[len(history)-1]
	if last.Kind != queue.EventRequeued || last.Detail != first.ID {
		t.Fatalf("expected requeued event naming %s, got %+v", first.ID, last)
	}
}

func testRequeueRefusesIneligible(t *testing.T, store queue.Store) {
	ctx := context.Background()
	if err := store.Requeue(ctx, "missing", NewJob("/spool/x.jpg")); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("Requeue of unknown job = %v, want ErrJobNotFound", err)
	}
	pending := mustEnqueue(t, store, "/spool/a.jpg")
	if err := store.Requeue(ctx, pending.ID, NewJob("/spool/a.jpg")); !errors.Is(err, queue.ErrNotRetryable) {
		t.Fatalf("Requeue of enqueued job = %v, want ErrNotRetryable", err)
	}
}

func testAttemptCeiling(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := mustEnqueue(t, store, "/spool/a.jpg")
	now := time.Now().UTC()
	for attempt := 1; attempt <= queue.DefaultMaxAttempts; attempt++ {
		running, err := store.MarkAttempt(ctx, job.ID, now)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if running.AttemptCount != attempt {
			t.Fatalf("attempt count = %d, want %d", running.AttemptCount, attempt)
		}
		if err := store.Reschedule(ctx, job.ID, now, queue.Failure{Message: "timeout"}); err != nil {
			t.Fatalf("Reschedule: %v", err)
		}
	}
	if _, err := store.MarkAttempt(ctx, job.ID, now); !errors.Is(err, queue.ErrNotDispatchable) {
		t.Fatalf("expected ceiling to refuse a fifth attempt, got %v", err)
	}
}

func testFinalizeIsAbsorbing(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := mustEnqueue(t, store, "/spool/a.jpg")
	now := time.Now().UTC()
	if _, err := store.MarkAttempt(ctx, job.ID, now); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	fin := queue.Finalization{
		Status:      queue.StatusSucceeded,
		Decision:    queue.DecisionDelete,
		StorageID:   "rec-1",
		Calories:    512.5,
		Description: "Chicken Salad",
	}
	if err := store.RecordDecision(ctx, job.ID, fin, now); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	pending := mustGet(t, store, job.ID)
	if !pending.DecisionPending() || pending.Status != queue.StatusRunning {
		t.Fatalf("expected pending decision, got %+v", pending)
	}

	final, err := store.Finalize(ctx, job.ID, true, now)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.Status != queue.StatusSucceeded || !final.ArtifactDeleted || final.FinishedAt == nil {
		t.Fatalf("unexpected final job %+v", final)
	}
	if final.StorageID != "rec-1" || final.Calories != 512.5 || final.Description != "Chicken Salad" {
		t.Fatalf("record fields not persisted: %+v", final)
	}

	before, _ := store.History(ctx, job.ID)
	again, err := store.Finalize(ctx, job.ID, true, now)
	if err != nil || again.Status != queue.StatusSucceeded {
		t.Fatalf("replayed Finalize = %v, %v", again, err)
	}
	after, _ := store.History(ctx, job.ID)
	if len(after) != len(before) {
		t.Fatalf("replayed Finalize must not append history: %d -> %d", len(before), len(after))
	}
	if _, err := store.MarkAttempt(ctx, job.ID, now); !errors.Is(err, queue.ErrNotDispatchable) {
		t.Fatalf("terminal job must not be dispatchable, got %v", err)
	}
	kinds := make([]queue.EventKind, 0, len(after))
	for _, event := range after {
		kinds = append(kinds, event.Kind)
	}
	want := []queue.EventKind{queue.EventEnqueued, queue.EventAttemptStarted, queue.EventDecisionRecord, queue.EventFinalized}
	if len(kinds) != len(want) {
		t.Fatalf("history kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("history kinds = %v, want %v", kinds, want)
		}
	}
}

func testTransitionsRequireRunning(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := mustEnqueue(t, store, "/spool/a.jpg")
	now := time.Now()
	if err := store.Reschedule(ctx, job.ID, now, queue.Failure{}); !errors.Is(err, queue.ErrNotRunning) {
		t.Fatalf("Reschedule on enqueued job: %v", err)
	}
	fin := queue.Finalization{Status: queue.StatusFailed, Decision: queue.DecisionDelete}
	if err := store.RecordDecision(ctx, job.ID, fin, now); !errors.Is(err, queue.ErrNotRunning) {
		t.Fatalf("RecordDecision on enqueued job: %v", err)
	}
	if _, err := store.Finalize(ctx, job.ID, false, now); !errors.Is(err, queue.ErrNotRunning) {
		t.Fatalf("Finalize without decision: %v", err)
	}
	if err := store.RecordDecision(ctx, job.ID, queue.Finalization{Status: queue.StatusRunning}, now); err == nil {
		t.Fatal("expected non-terminal decision to be rejected")
	}
}

func testPurgeKeepsHistory(t *testing.T, store queue.Store) {
	ctx := context.Background()
	job := mustEnqueue(t, store, "/spool/a.jpg")
	keep := mustEnqueue(t, store, "/spool/b.jpg")
	now := time.Now().UTC()
	if _, err := store.MarkAttempt(ctx, job.ID, now); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	fin := queue.Finalization{Status: queue.StatusFailed, Decision: queue.DecisionDelete, Failure: queue.Failure{Message: "malformed"}}
	if err := store.RecordDecision(ctx, job.ID, fin, now); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if _, err := store.Finalize(ctx, job.ID, true, now); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	removed, err := store.Purge(ctx, now.Add(time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("Purge = %d, %v; want 1", removed, err)
	}
	if got, _ := store.Get(ctx, job.ID); got != nil {
		t.Fatal("purged job still present")
	}
	if got, _ := store.Get(ctx, keep.ID); got == nil {
		t.Fatal("active job must survive purge")
	}
	history, err := store.History(ctx, job.ID)
	if err != nil || len(history) == 0 {
		t.Fatalf("history must survive purge, got %d (%v)", len(history), err)
	}
}

func testStatsAndRunning(t *testing.T, store queue.Store) {
	ctx := context.Background()
	first := mustEnqueue(t, store, "/spool/a.jpg")
	mustEnqueue(t, store, "/spool/b.jpg")
	if _, err := store.MarkAttempt(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("MarkAttempt: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusEnqueued] != 1 || stats[queue.StatusRunning] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
	summary := queue.Summarize(stats)
	if summary.Total != 2 || summary.Running != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	running, err := store.Running(ctx)
	if err != nil || len(running) != 1 || running[0].ID != first.ID {
		t.Fatalf("Running = %v, %v", running, err)
	}
	listed, err := store.List(ctx, queue.StatusEnqueued, queue.StatusRunning)
	if err != nil || len(listed) != 2 {
		t.Fatalf("List = %d, %v", len(listed), err)
	}
}
