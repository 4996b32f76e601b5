package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nutrilog/internal/queue"
)

// MarkAttempt claims a dispatchable job. Rows locked by a concurrent claimer
// are skipped and reported as not dispatchable.
func (s *Store) MarkAttempt(ctx context.Context, id string, now time.Time) (*queue.Job, error) {
	now = now.UTC()
	var job *queue.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		claimed, err := scanJob(tx.QueryRow(ctx,
			`UPDATE nutrilog_jobs
             SET status = $1, attempt_count = attempt_count + 1, heartbeat_at = $2,
                 next_attempt_at = NULL, updated_at = $2
             WHERE id = (
                 SELECT id FROM nutrilog_jobs
                 WHERE id = $3 AND status = ANY($4) AND attempt_count < max_attempts
                 FOR UPDATE SKIP LOCKED
             )
             RETURNING `+jobColumns,
			string(queue.StatusRunning), now, id,
			[]string{string(queue.StatusEnqueued), string(queue.StatusAwaitingRetry)},
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return refusal(ctx, tx, id, queue.ErrNotDispatchable)
		}
		if err != nil {
			return err
		}
		job = claimed
		return insertEvent(ctx, tx, id, queue.EventAttemptStarted, queue.StatusRunning, job.AttemptCount, "", now)
	})
	if err != nil {
		return nil, fmt.Errorf("mark attempt: %w", err)
	}
	return job, nil
}

// Heartbeat refreshes the liveness timestamp of a running job.
func (s *Store) Heartbeat(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE nutrilog_jobs SET heartbeat_at = $1 WHERE id = $2 AND status = $3`,
		now.UTC(), id, string(queue.StatusRunning),
	)
	return err
}

// Reschedule moves a running job to awaiting_retry.
func (s *Store) Reschedule(ctx context.Context, id string, at time.Time, cause queue.Failure) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		var attempt int
		err := tx.QueryRow(ctx,
			`UPDATE nutrilog_jobs
             SET status = $1, next_attempt_at = $2, last_error = $3, error_category = $4,
                 heartbeat_at = NULL, updated_at = $5
             WHERE id = $6 AND status = $7 AND pending_status IS NULL
             RETURNING attempt_count`,
			string(queue.StatusAwaitingRetry), at.UTC(),
			nullableString(cause.Message), nullableString(cause.Category),
			now, id, string(queue.StatusRunning),
		).Scan(&attempt)
		if errors.Is(err, pgx.ErrNoRows) {
			return refusal(ctx, tx, id, queue.ErrNotRunning)
		}
		if err != nil {
			return err
		}
		detail := fmt.Sprintf("retry at %s: %s", at.UTC().Format(time.RFC3339Nano), cause.Message)
		return insertEvent(ctx, tx, id, queue.EventRetryScheduled, queue.StatusAwaitingRetry, attempt, detail, now)
	})
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

// RecordDecision persists the terminal verdict while the job stays running.
func (s *Store) RecordDecision(ctx context.Context, id string, fin queue.Finalization, now time.Time) error {
	if !fin.Status.IsTerminal() {
		return fmt.Errorf("record decision: status %q is not terminal", fin.Status)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var attempt int
		err := tx.QueryRow(ctx,
			`UPDATE nutrilog_jobs
             SET pending_status = $1, decision = $2, last_error = $3, error_category = $4,
                 storage_id = $5, calories = $6, description = $7, updated_at = $8
             WHERE id = $9 AND status = $10
             RETURNING attempt_count`,
			string(fin.Status), fin.Decision,
			nullableString(fin.Failure.Message), nullableString(fin.Failure.Category),
			nullableString(fin.StorageID), fin.Calories, nullableString(fin.Description),
			now.UTC(), id, string(queue.StatusRunning),
		).Scan(&attempt)
		if errors.Is(err, pgx.ErrNoRows) {
			return refusal(ctx, tx, id, queue.ErrNotRunning)
		}
		if err != nil {
			return err
		}
		detail := fmt.Sprintf("status=%s decision=%s", fin.Status, fin.Decision)
		if fin.Failure.Message != "" {
			detail += ": " + fin.Failure.Message
		}
		return insertEvent(ctx, tx, id, queue.EventDecisionRecord, queue.StatusRunning, attempt, detail, now)
	})
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// Finalize promotes the recorded decision to the terminal status. Finalizing
// an already terminal job returns it unchanged.
func (s *Store) Finalize(ctx context.Context, id string, artifactDeleted bool, now time.Time) (*queue.Job, error) {
	now = now.UTC()
	var job *queue.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM nutrilog_jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			job = current
			return nil
		}
		if !current.DecisionPending() {
			return queue.ErrNotRunning
		}
		job, err = scanJob(tx.QueryRow(ctx,
			`UPDATE nutrilog_jobs
             SET status = pending_status, pending_status = NULL, artifact_deleted = $1,
                 next_attempt_at = NULL, heartbeat_at = NULL, finished_at = $2, updated_at = $2
             WHERE id = $3
             RETURNING `+jobColumns,
			artifactDeleted, now, id,
		))
		if err != nil {
			return err
		}
		detail := fmt.Sprintf("decision=%s artifact_deleted=%t", job.Decision, artifactDeleted)
		return insertEvent(ctx, tx, id, queue.EventFinalized, job.Status, job.AttemptCount, detail, now)
	})
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return job, nil
}

// refusal distinguishes an unknown id from a job in the wrong state.
func refusal(ctx context.Context, tx pgx.Tx, id string, refused error) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nutrilog_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return queue.ErrJobNotFound
	}
	return refused
}
