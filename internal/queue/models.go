package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusEnqueued      Status = "enqueued"
	StatusRunning       Status = "running"
	StatusAwaitingRetry Status = "awaiting_retry"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
)

var allStatuses = []Status{
	StatusEnqueued,
	StatusRunning,
	StatusAwaitingRetry,
	StatusSucceeded,
	StatusFailed,
}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Dispatchable reports whether a job in this status may start an attempt.
func (s Status) Dispatchable() bool {
	return s == StatusEnqueued || s == StatusAwaitingRetry
}

// DefaultMaxAttempts is the attempt ceiling (one initial attempt plus three retries).
const DefaultMaxAttempts = 4

// Cleanup decisions persisted with terminal jobs.
const (
	DecisionDelete = "delete"
	DecisionRetain = "retain"
)

// Input is the immutable payload of a job.
type Input struct {
	ArtifactRef string
	CapturedAt  time.Time
	Source      string
}

// Constraints must hold before an attempt may start.
type Constraints struct {
	RequiresNetwork bool
}

// ReadyFilter narrows NextReady to jobs whose constraints can currently hold.
// The zero value matches every due job.
type ReadyFilter struct {
	// Offline excludes jobs that require the network.
	Offline bool
}

// Failure describes why an attempt did not succeed.
type Failure struct {
	Message  string
	Category string
}

// Job is one capture-to-save pipeline run.
type Job struct {
	ID           string
	Input        Input
	Constraints  Constraints
	AttemptCount int
	MaxAttempts  int
	Status       Status

	NextAttemptAt *time.Time
	LastError     string
	ErrorCategory string

	// PendingStatus and Decision are written by RecordDecision before cleanup
	// runs; Finalize promotes PendingStatus to Status.
	PendingStatus   Status
	Decision        string
	ArtifactDeleted bool

	StorageID   string
	Calories    float64
	Description string

	// RetriedBy is the id of the job an operator retry created from this one.
	RetriedBy string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	HeartbeatAt *time.Time
	FinishedAt  *time.Time
}

// Clone returns a deep copy so callers can hand jobs across goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.NextAttemptAt = cloneTime(j.NextAttemptAt)
	clone.HeartbeatAt = cloneTime(j.HeartbeatAt)
	clone.FinishedAt = cloneTime(j.FinishedAt)
	return &clone
}

// AttemptsRemaining reports how many attempts the job may still make.
func (j *Job) AttemptsRemaining() int {
	if j == nil {
		return 0
	}
	remaining := j.MaxAttempts - j.AttemptCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DecisionPending reports whether a terminal decision was recorded but the job
// has not been finalized yet.
func (j *Job) DecisionPending() bool {
	return j != nil && j.Status == StatusRunning && j.PendingStatus.IsTerminal()
}

// CheckRequeue reports why source may not be retried, or nil when it may.
// Only failed jobs that kept their artifact and were not retried before
// qualify, so one artifact never has two live jobs.
func CheckRequeue(source *Job) error {
	switch {
	case source == nil:
		return ErrJobNotFound
	case source.RetriedBy != "":
		return fmt.Errorf("%w: already retried as %s", ErrNotRetryable, source.RetriedBy)
	case source.Status != StatusFailed || source.Decision != DecisionRetain || source.ArtifactDeleted:
		return fmt.Errorf("%w: status %s, decision %q", ErrNotRetryable, source.Status, source.Decision)
	}
	return nil
}

func (j *Job) String() string {
	if j == nil {
		return "<nil job>"
	}
	return fmt.Sprintf("job %s (%s, attempt %d/%d)", j.ID, j.Status, j.AttemptCount, j.MaxAttempts)
}

// Finalization carries the terminal verdict recorded before artifact cleanup.
type Finalization struct {
	Status      Status
	Decision    string
	Failure     Failure
	StorageID   string
	Calories    float64
	Description string
}

// EventKind names an entry in a job's immutable history.
type EventKind string

const (
	EventEnqueued       EventKind = "enqueued"
	EventAttemptStarted EventKind = "attempt_started"
	EventRetryScheduled EventKind = "retry_scheduled"
	EventDecisionRecord EventKind = "decision_recorded"
	EventFinalized      EventKind = "finalized"
	EventRequeued       EventKind = "requeued"
)

// Event is one append-only history row.
type Event struct {
	ID      int64
	JobID   string
	Kind    EventKind
	Status  Status
	Attempt int
	Detail  string
	At      time.Time
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total         int
	Enqueued      int
	Running       int
	AwaitingRetry int
	Succeeded     int
	Failed        int
}

// Summarize folds Stats output into a HealthSummary.
func Summarize(stats map[Status]int) HealthSummary {
	var summary HealthSummary
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusEnqueued:
			summary.Enqueued += count
		case StatusRunning:
			summary.Running += count
		case StatusAwaitingRetry:
			summary.AwaitingRetry += count
		case StatusSucceeded:
			summary.Succeeded += count
		case StatusFailed:
			summary.Failed += count
		}
	}
	return summary
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
