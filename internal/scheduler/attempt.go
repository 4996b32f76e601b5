package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nutrilog/internal/events"
	"nutrilog/internal/lifecycle"
	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/retry"
	"nutrilog/internal/services"
	"nutrilog/internal/stage"
)

// errInterrupted is the cause recorded for attempts lost to a crash or stall.
var errInterrupted = errors.New("attempt interrupted before an outcome was recorded")

func (s *Scheduler) jobLogger(ctx context.Context, job *queue.Job) *slog.Logger {
	return logging.WithContext(ctx, s.logger).With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldArtifactRef, job.Input.ArtifactRef),
	)
}

// runAttempt claims the job in the store, runs one bounded attempt and
// settles its outcome.
func (s *Scheduler) runAttempt(ctx context.Context, job *queue.Job) {
	marked, err := s.store.MarkAttempt(ctx, job.ID, s.clock())
	if err != nil {
		if errors.Is(err, queue.ErrNotDispatchable) || errors.Is(err, queue.ErrJobNotFound) {
			s.logger.Debug("job no longer dispatchable", logging.String(logging.FieldJobID, job.ID))
			return
		}
		if ctx.Err() == nil {
			s.setLastError(err)
			logging.ErrorWithContext(s.logger, "failed to record attempt", "attempt_mark_failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return
	}
	s.setLastJob(marked.ID)
	s.publish(ctx, events.TypeAttemptStarted, marked)

	attemptCtx := services.WithJobID(ctx, marked.ID)
	attemptCtx = services.WithAttempt(attemptCtx, marked.AttemptCount)
	attemptCtx = services.WithComponent(attemptCtx, "executor")
	logger := s.jobLogger(attemptCtx, marked)
	logger.Info("attempt started",
		logging.String(logging.FieldEventType, "attempt_started"),
		logging.Int("max_attempts", marked.MaxAttempts),
	)

	boundCtx, cancel := context.WithTimeout(attemptCtx, s.settings.AttemptTimeout)
	var hb sync.WaitGroup
	hb.Add(1)
	go s.heartbeat(boundCtx, &hb, marked.ID)

	outcome := s.exec.Execute(boundCtx, stage.Attempt{Job: marked, Number: marked.AttemptCount})
	cancel()
	hb.Wait()

	persistCtx, done := persistContext(attemptCtx)
	defer done()
	s.settle(persistCtx, marked, outcome)
}

// heartbeat refreshes the job's liveness timestamp until ctx ends.
func (s *Scheduler) heartbeat(ctx context.Context, wg *sync.WaitGroup, id string) {
	defer wg.Done()
	ticker := time.NewTicker(s.settings.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.Heartbeat(ctx, id, s.clock()); err != nil && ctx.Err() == nil {
				s.logger.Warn("heartbeat update failed",
					logging.String(logging.FieldJobID, id),
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
					logging.String(logging.FieldImpact, "job may be reclaimed as stalled"),
				)
			}
		}
	}
}

// settle records what follows an attempt. It is the only place job status
// changes after MarkAttempt.
func (s *Scheduler) settle(ctx context.Context, job *queue.Job, outcome stage.Outcome) {
	switch outcome.Kind {
	case stage.OutcomeSuccess, stage.OutcomeTerminal:
		s.finalize(ctx, job, outcome)
	case stage.OutcomeRetryable:
		s.retryOrExhaust(ctx, job, outcome)
	default:
		s.finalize(ctx, job, stage.Terminal(
			fmt.Errorf("executor returned outcome kind %d", outcome.Kind), retry.CategoryUnexpected, false))
	}
}

func (s *Scheduler) retryOrExhaust(ctx context.Context, job *queue.Job, outcome stage.Outcome) {
	policy := s.settings.Policy
	if job.MaxAttempts > 0 {
		policy.MaxAttempts = job.MaxAttempts
	}
	decision := policy.Next(retry.Classification{Class: retry.Retryable, Category: outcome.Category}, job.AttemptCount)
	if decision.Exhausted || !decision.Retry {
		cause := fmt.Errorf("retries exhausted after %d attempts: %w", job.AttemptCount, outcome.Cause)
		s.finalize(ctx, job, stage.Terminal(cause, retry.CategoryExhausted, false))
		return
	}

	now := s.clock()
	delay := decision.Delay
	if outcome.Category == retry.CategoryCanceled {
		// Shutdown is not a remote failure; the next daemon run may try at once.
		delay = 0
	}
	at := now.Add(delay)
	failure := outcome.Failure()
	if err := s.store.Reschedule(ctx, job.ID, at, failure); err != nil {
		s.setLastError(err)
		logging.ErrorWithContext(s.jobLogger(ctx, job), "failed to reschedule job", "reschedule_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "job stays running until heartbeat reclaim"),
		)
		return
	}

	rescheduled := job.Clone()
	rescheduled.Status = queue.StatusAwaitingRetry
	rescheduled.NextAttemptAt = &at
	rescheduled.LastError = failure.Message
	rescheduled.ErrorCategory = failure.Category
	s.jobLogger(ctx, job).Info("attempt failed; retry scheduled",
		logging.String(logging.FieldEventType, "retry_scheduled"),
		logging.Int(logging.FieldAttempt, job.AttemptCount),
		logging.String(logging.FieldErrorCategory, failure.Category),
		logging.Duration("delay", delay),
		logging.Time("next_attempt_at", at),
		logging.String("error", failure.Message),
	)
	if s.bus != nil {
		ev := events.FromJob(events.TypeRetryScheduled, rescheduled, now)
		s.bus.Publish(ctx, ev)
	}
	s.signal()
}

// finalize records the terminal verdict and cleanup decision, applies the
// cleanup, then promotes the job to its terminal status.
func (s *Scheduler) finalize(ctx context.Context, job *queue.Job, outcome stage.Outcome) {
	decision := lifecycle.Decide(outcome)
	fin := queue.Finalization{Status: queue.StatusFailed, Decision: string(decision)}
	if outcome.Kind == stage.OutcomeSuccess {
		fin.Status = queue.StatusSucceeded
		fin.StorageID = outcome.StorageID
		fin.Calories = outcome.Record.Calories
		fin.Description = outcome.Record.Description
	} else {
		fin.Failure = outcome.Failure()
	}

	if err := s.store.RecordDecision(ctx, job.ID, fin, s.clock()); err != nil {
		s.setLastError(err)
		logging.ErrorWithContext(s.jobLogger(ctx, job), "failed to record terminal decision", "decision_record_failed",
			logging.Error(err),
			logging.String("outcome", outcome.String()),
			logging.String(logging.FieldErrorHint, "job is re-attempted after heartbeat reclaim"),
		)
		return
	}

	pending := job.Clone()
	pending.PendingStatus = fin.Status
	pending.Decision = fin.Decision
	pending.StorageID = fin.StorageID
	pending.Calories = fin.Calories
	pending.Description = fin.Description
	pending.LastError = fin.Failure.Message
	pending.ErrorCategory = fin.Failure.Category
	_ = s.completeFinalization(ctx, pending)
}

// completeFinalization applies a recorded decision and finalizes the job. It
// is shared by live attempts and crash recovery.
func (s *Scheduler) completeFinalization(ctx context.Context, job *queue.Job) error {
	logger := s.jobLogger(ctx, job)
	result, err := s.cleaner.Apply(ctx, job, lifecycle.Decision(job.Decision))
	if err != nil {
		s.setLastError(err)
		return err
	}

	deleted := result.Deleted || (result.Decision == lifecycle.Delete && result.AlreadyAbsent)
	final, err := s.store.Finalize(ctx, job.ID, deleted, s.clock())
	if err != nil {
		s.setLastError(err)
		logging.ErrorWithContext(logger, "failed to finalize job", "finalize_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "finalization resumes on the next recovery pass"),
		)
		return err
	}

	eventType := events.TypeFailed
	if final.Status == queue.StatusSucceeded {
		eventType = events.TypeSucceeded
		logger.Info("job succeeded",
			logging.String(logging.FieldEventType, "job_succeeded"),
			logging.Int("attempts", final.AttemptCount),
			logging.String("storage_id", final.StorageID),
			logging.Float64("calories", final.Calories),
		)
	} else {
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.Int("attempts", final.AttemptCount),
			logging.String(logging.FieldErrorCategory, final.ErrorCategory),
			logging.String("error", final.LastError),
			logging.String("decision", final.Decision),
			logging.Time(logging.FieldCapturedAt, final.Input.CapturedAt),
			logging.String(logging.FieldImpact, impactFor(final)),
			logging.String(logging.FieldErrorHint, hintFor(final)),
		)
	}
	s.publish(ctx, eventType, final)
	return nil
}

func impactFor(job *queue.Job) string {
	if job.Decision == queue.DecisionRetain {
		return "meal not logged; photo kept for manual review"
	}
	return "meal not logged; photo removed"
}

func hintFor(job *queue.Job) string {
	if job.Decision == queue.DecisionRetain {
		return "fix storage permissions, then run nutrilog queue retry " + job.ID
	}
	return "inspect the job history with nutrilog queue history " + job.ID
}
