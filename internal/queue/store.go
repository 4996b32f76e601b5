package queue

import (
	"context"
	"time"
)

// Store is the durable queue. All status and attempt count mutations happen
// through it, and each mutation appends to the job's history atomically.
type Store interface {
	// Enqueue persists a new job before returning.
	Enqueue(ctx context.Context, job *Job) error
	// Get returns the job or nil when the id is unknown.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns jobs filtered by status (all when none given), oldest first.
	List(ctx context.Context, statuses ...Status) ([]*Job, error)
	// Requeue enqueues job as the operator retry of sourceID and stamps the
	// source with job.ID in the same transaction. It fails with
	// ErrJobNotFound or ErrNotRetryable per CheckRequeue.
	Requeue(ctx context.Context, sourceID string, job *Job) error
	// NextReady returns up to limit enqueued jobs and awaiting_retry jobs due
	// at now that pass filter, oldest first.
	NextReady(ctx context.Context, now time.Time, limit int, filter ReadyFilter) ([]*Job, error)
	// NextWakeup returns the earliest pending retry time, or nil.
	NextWakeup(ctx context.Context) (*time.Time, error)
	// MarkAttempt moves a dispatchable job to running and increments its
	// attempt count. Returns ErrNotDispatchable otherwise.
	MarkAttempt(ctx context.Context, id string, now time.Time) (*Job, error)
	// Heartbeat refreshes the liveness timestamp of a running job.
	Heartbeat(ctx context.Context, id string, now time.Time) error
	// Reschedule moves a running job to awaiting_retry due at the given time.
	Reschedule(ctx context.Context, id string, at time.Time, cause Failure) error
	// RecordDecision stores the terminal verdict and cleanup decision of a
	// running job without leaving the running status.
	RecordDecision(ctx context.Context, id string, fin Finalization, now time.Time) error
	// Finalize promotes a recorded decision to the terminal status.
	Finalize(ctx context.Context, id string, artifactDeleted bool, now time.Time) (*Job, error)
	// Running returns every job currently in the running status.
	Running(ctx context.Context) ([]*Job, error)
	// History returns the job's events in insertion order.
	History(ctx context.Context, id string) ([]Event, error)
	// Stats returns a count of jobs grouped by status.
	Stats(ctx context.Context) (map[Status]int, error)
	// Purge deletes terminal jobs finished before the cutoff; history stays.
	Purge(ctx context.Context, finishedBefore time.Time) (int, error)
	Close() error
}

// Timestamps are stored with a fixed-width layout so lexical comparison in SQL
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
