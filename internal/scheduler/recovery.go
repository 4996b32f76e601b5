package scheduler

import (
	"context"
	"errors"
	"fmt"

	"nutrilog/internal/logging"
	"nutrilog/internal/retry"
	"nutrilog/internal/stage"
)

// recoverRunning settles running jobs that no worker in this process owns.
// Jobs with a recorded decision resume finalization; the rest count as an
// interrupted attempt. With staleOnly set, jobs whose heartbeat is younger
// than the heartbeat timeout are left alone.
func (s *Scheduler) recoverRunning(ctx context.Context, staleOnly bool) error {
	jobs, err := s.store.Running(ctx)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	cutoff := s.clock().Add(-s.settings.HeartbeatTimeout)

	var errs []error
	recovered := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if s.isInflight(job.ID) {
			continue
		}
		if staleOnly && job.HeartbeatAt != nil && job.HeartbeatAt.After(cutoff) {
			continue
		}
		logger := s.jobLogger(ctx, job)
		if job.DecisionPending() {
			logger.Info("resuming interrupted finalization",
				logging.String(logging.FieldEventType, "finalization_resumed"),
				logging.String("decision", job.Decision),
			)
			if err := s.completeFinalization(ctx, job); err != nil {
				errs = append(errs, fmt.Errorf("resume finalization of %s: %w", job.ID, err))
				continue
			}
		} else {
			logging.WarnWithContext(logger, "running job was interrupted", "attempt_interrupted",
				logging.Int(logging.FieldAttempt, job.AttemptCount),
				logging.Bool("stale_heartbeat", staleOnly),
				logging.String(logging.FieldImpact, "the lost attempt counts against the retry budget"),
				logging.String(logging.FieldErrorHint, "expected after a crash or restart"),
			)
			s.settle(ctx, job, stage.Retryable(errInterrupted, retry.CategoryInterrupted))
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered running jobs",
			logging.String(logging.FieldEventType, "jobs_recovered"),
			logging.Int("count", recovered),
		)
		s.signal()
	}
	return errors.Join(errs...)
}
