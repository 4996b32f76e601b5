package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarkAttempt moves a dispatchable job to running and records the attempt
// before any work starts, so a crash mid-attempt still counts it.
func (s *SQLiteStore) MarkAttempt(ctx context.Context, id string, now time.Time) (*Job, error) {
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts := formatTime(now)
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET status = ?, attempt_count = attempt_count + 1, heartbeat_at = ?,
                 next_attempt_at = NULL, updated_at = ?
             WHERE id = ? AND status IN (?, ?) AND attempt_count < max_attempts`,
			string(StatusRunning), ts, ts,
			id, string(StatusEnqueued), string(StatusAwaitingRetry),
		)
		if err != nil {
			return err
		}
		if err := requireOneRow(ctx, tx, res, id, ErrNotDispatchable); err != nil {
			return err
		}
		job, err = getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, id, EventAttemptStarted, StatusRunning, job.AttemptCount, "", now)
	})
	if err != nil {
		return nil, wrapTransition("mark attempt", err)
	}
	return job, nil
}

// Heartbeat refreshes the liveness timestamp of a running job.
func (s *SQLiteStore) Heartbeat(ctx context.Context, id string, now time.Time) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status = ?`,
			formatTime(now), id, string(StatusRunning),
		)
		return err
	})
}

// Reschedule moves a running job to awaiting_retry.
func (s *SQLiteStore) Reschedule(ctx context.Context, id string, at time.Time, cause Failure) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET status = ?, next_attempt_at = ?, last_error = ?, error_category = ?,
                 heartbeat_at = NULL, updated_at = ?
             WHERE id = ? AND status = ? AND pending_status IS NULL`,
			string(StatusAwaitingRetry), formatTime(at),
			nullableString(cause.Message), nullableString(cause.Category),
			formatTime(now), id, string(StatusRunning),
		)
		if err != nil {
			return err
		}
		if err := requireOneRow(ctx, tx, res, id, ErrNotRunning); err != nil {
			return err
		}
		var attempt int
		if err := tx.QueryRowContext(ctx, `SELECT attempt_count FROM jobs WHERE id = ?`, id).Scan(&attempt); err != nil {
			return err
		}
		detail := fmt.Sprintf("retry at %s: %s", formatTime(at), cause.Message)
		return insertEvent(ctx, tx, id, EventRetryScheduled, StatusAwaitingRetry, attempt, detail, now)
	})
	return wrapTransition("reschedule", err)
}

// RecordDecision persists the terminal verdict and cleanup decision while the
// job is still running.
func (s *SQLiteStore) RecordDecision(ctx context.Context, id string, fin Finalization, now time.Time) error {
	if !fin.Status.IsTerminal() {
		return fmt.Errorf("record decision: status %q is not terminal", fin.Status)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET pending_status = ?, decision = ?, last_error = ?, error_category = ?,
                 storage_id = ?, calories = ?, description = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(fin.Status), fin.Decision,
			nullableString(fin.Failure.Message), nullableString(fin.Failure.Category),
			nullableString(fin.StorageID), fin.Calories, nullableString(fin.Description),
			formatTime(now), id, string(StatusRunning),
		)
		if err != nil {
			return err
		}
		if err := requireOneRow(ctx, tx, res, id, ErrNotRunning); err != nil {
			return err
		}
		var attempt int
		if err := tx.QueryRowContext(ctx, `SELECT attempt_count FROM jobs WHERE id = ?`, id).Scan(&attempt); err != nil {
			return err
		}
		detail := fmt.Sprintf("status=%s decision=%s", fin.Status, fin.Decision)
		if fin.Failure.Message != "" {
			detail += ": " + fin.Failure.Message
		}
		return insertEvent(ctx, tx, id, EventDecisionRecord, StatusRunning, attempt, detail, now)
	})
	return wrapTransition("record decision", err)
}

// Finalize promotes the recorded decision to the terminal status. Finalizing
// an already terminal job returns it unchanged.
func (s *SQLiteStore) Finalize(ctx context.Context, id string, artifactDeleted bool, now time.Time) (*Job, error) {
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getJob(ctx, tx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			job = current
			return nil
		}
		if !current.DecisionPending() {
			return ErrNotRunning
		}
		ts := formatTime(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET status = pending_status, pending_status = NULL, artifact_deleted = ?,
                 next_attempt_at = NULL, heartbeat_at = NULL, finished_at = ?, updated_at = ?
             WHERE id = ?`,
			boolToInt(artifactDeleted), ts, ts, id,
		); err != nil {
			return err
		}
		if job, err = getJob(ctx, tx, id); err != nil {
			return err
		}
		detail := fmt.Sprintf("decision=%s artifact_deleted=%t", job.Decision, artifactDeleted)
		return insertEvent(ctx, tx, id, EventFinalized, job.Status, job.AttemptCount, detail, now)
	})
	if err != nil {
		return nil, wrapTransition("finalize", err)
	}
	return job, nil
}

// requireOneRow converts a zero-row conditional update into ErrJobNotFound or
// the supplied refusal error.
func requireOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, id string, refusal error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrJobNotFound
	}
	return refusal
}

func wrapTransition(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
