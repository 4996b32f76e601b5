package events

import (
	"context"
	"time"

	"nutrilog/internal/queue"
)

// Type names a job transition.
type Type string

const (
	TypeEnqueued       Type = "job.enqueued"
	TypeAttemptStarted Type = "job.attempt_started"
	TypeRetryScheduled Type = "job.retry_scheduled"
	TypeSucceeded      Type = "job.succeeded"
	TypeFailed         Type = "job.failed"
)

// Terminal reports whether the event closes a job's lifecycle.
func (t Type) Terminal() bool {
	return t == TypeSucceeded || t == TypeFailed
}

// Event is one observable job transition.
type Event struct {
	Sequence      uint64       `json:"seq"`
	Type          Type         `json:"type"`
	JobID         string       `json:"job_id"`
	Status        queue.Status `json:"status"`
	Attempt       int          `json:"attempt"`
	MaxAttempts   int          `json:"max_attempts"`
	ArtifactRef   string       `json:"artifact_ref,omitempty"`
	CapturedAt    time.Time    `json:"captured_at"`
	Error         string       `json:"error,omitempty"`
	Category      string       `json:"error_category,omitempty"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	Decision      string       `json:"decision,omitempty"`
	Deleted       bool         `json:"artifact_deleted,omitempty"`
	StorageID     string       `json:"storage_id,omitempty"`
	Calories      float64      `json:"calories,omitempty"`
	Description   string       `json:"description,omitempty"`
	Timestamp     time.Time    `json:"ts"`
}

// FromJob fills the job-derived fields of an event.
func FromJob(t Type, job *queue.Job, at time.Time) Event {
	ev := Event{Type: t, Timestamp: at.UTC()}
	if job == nil {
		return ev
	}
	ev.JobID = job.ID
	ev.Status = job.Status
	ev.Attempt = job.AttemptCount
	ev.MaxAttempts = job.MaxAttempts
	ev.ArtifactRef = job.Input.ArtifactRef
	ev.CapturedAt = job.Input.CapturedAt
	ev.Error = job.LastError
	ev.Category = job.ErrorCategory
	if job.NextAttemptAt != nil {
		next := *job.NextAttemptAt
		ev.NextAttemptAt = &next
	}
	ev.Decision = job.Decision
	ev.Deleted = job.ArtifactDeleted
	ev.StorageID = job.StorageID
	ev.Calories = job.Calories
	ev.Description = job.Description
	return ev
}

// Retained reports whether a failed job kept its artifact for manual review.
func (e Event) Retained() bool {
	return e.Type == TypeFailed && e.Decision == queue.DecisionRetain
}

// Observer receives published events. Implementations must not block for long.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }
