package queue

import "errors"

var (
	// ErrNotDispatchable is returned by MarkAttempt when the job is not in a
	// dispatchable status or has no attempts left.
	ErrNotDispatchable = errors.New("job is not dispatchable")
	// ErrNotRunning is returned when a transition requires a running job.
	ErrNotRunning = errors.New("job is not running")
	// ErrJobNotFound is returned by transitions on unknown ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when an id is enqueued twice.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrNotRetryable is returned by Requeue when the source job did not
	// retain its artifact or was already retried.
	ErrNotRetryable = errors.New("job is not retryable")
)
