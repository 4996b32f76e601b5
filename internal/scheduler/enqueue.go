package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nutrilog/internal/events"
	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
)

// MaxCaptureSkew is how far in the future a capture timestamp may lie before
// the job is rejected.
const MaxCaptureSkew = 5 * time.Minute

// ErrInvalidJob matches every *InvalidJobError.
var ErrInvalidJob = errors.New("invalid job")

// ErrNotRetryable is returned by Retry for jobs that did not retain their
// artifact or were already retried.
var ErrNotRetryable = queue.ErrNotRetryable

// InvalidJobError reports a job rejected at submission. It is the caller's
// problem and never retried.
type InvalidJobError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InvalidJobError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

func (e *InvalidJobError) Is(target error) bool {
	return target == ErrInvalidJob
}

func (e *InvalidJobError) Unwrap() error {
	return e.Err
}

// Enqueue validates input, persists a new job and wakes the dispatch loop.
// The job is durable when Enqueue returns.
func (s *Scheduler) Enqueue(ctx context.Context, input queue.Input, constraints queue.Constraints) (string, error) {
	job, err := s.newJob(input, constraints)
	if err != nil {
		return "", err
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.accepted(ctx, job)
	return job.ID, nil
}

func (s *Scheduler) newJob(input queue.Input, constraints queue.Constraints) (*queue.Job, error) {
	input.ArtifactRef = strings.TrimSpace(input.ArtifactRef)
	if err := s.validate(input); err != nil {
		return nil, err
	}
	input.CapturedAt = input.CapturedAt.UTC()
	return &queue.Job{
		ID:          uuid.NewString(),
		Input:       input,
		Constraints: constraints,
		MaxAttempts: s.settings.Policy.MaxAttempts,
	}, nil
}

// accepted logs and announces a persisted job and wakes the dispatch loop.
func (s *Scheduler) accepted(ctx context.Context, job *queue.Job) {
	input, constraints := job.Input, job.Constraints
	s.logger.Info("job enqueued",
		logging.String(logging.FieldEventType, "job_enqueued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldArtifactRef, input.ArtifactRef),
		logging.Time(logging.FieldCapturedAt, input.CapturedAt),
		logging.Bool("requires_network", constraints.RequiresNetwork),
	)
	s.publish(ctx, events.TypeEnqueued, job)
	s.signal()
}

func (s *Scheduler) validate(input queue.Input) error {
	if input.ArtifactRef == "" {
		return &InvalidJobError{Field: "artifact_ref", Reason: "is required"}
	}
	if _, err := s.files.Resolve(input.ArtifactRef); err != nil {
		return &InvalidJobError{Field: "artifact_ref", Reason: "does not resolve: " + err.Error(), Err: err}
	}
	if input.CapturedAt.IsZero() {
		return &InvalidJobError{Field: "captured_at", Reason: "is required"}
	}
	if limit := s.clock().Add(MaxCaptureSkew); input.CapturedAt.After(limit) {
		return &InvalidJobError{
			Field:  "captured_at",
			Reason: fmt.Sprintf("%s is in the future", input.CapturedAt.UTC().Format(time.RFC3339)),
		}
	}
	return nil
}

// RetryResult reports the outcome of re-queueing one failed job.
type RetryResult struct {
	JobID    string
	NewJobID string
	Err      error
}

// Retry re-queues failed jobs whose artifact was retained for manual review.
// Terminal states are absorbing, so a retry creates a new job referencing the
// same artifact. The store stamps the source in the same transaction, so each
// failed job can be retried once and its artifact never has two live jobs.
func (s *Scheduler) Retry(ctx context.Context, ids ...string) ([]RetryResult, error) {
	results := make([]RetryResult, 0, len(ids))
	for _, id := range ids {
		result := RetryResult{JobID: id}
		source, err := s.store.Get(ctx, id)
		if err != nil {
			return results, fmt.Errorf("load job %s: %w", id, err)
		}
		if result.Err = queue.CheckRequeue(source); result.Err == nil {
			result.NewJobID, result.Err = s.requeue(ctx, source)
		}
		if result.Err == nil {
			s.logger.Info("retained job re-queued",
				logging.String(logging.FieldEventType, "job_retried"),
				logging.String(logging.FieldJobID, id),
				logging.String("new_job_id", result.NewJobID),
			)
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Scheduler) requeue(ctx context.Context, source *queue.Job) (string, error) {
	input := source.Input
	input.Source = "retry:" + source.ID
	job, err := s.newJob(input, source.Constraints)
	if err != nil {
		return "", err
	}
	if err := s.store.Requeue(ctx, source.ID, job); err != nil {
		return "", err
	}
	s.accepted(ctx, job)
	return job.ID, nil
}
