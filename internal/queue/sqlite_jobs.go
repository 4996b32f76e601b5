package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Enqueue inserts a new job and its first history entry in one transaction.
func (s *SQLiteStore) Enqueue(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	PrepareForEnqueue(job, time.Now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertJob(ctx, tx, job)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Requeue inserts job as the retry of sourceID. The source row is re-read
// and stamped inside the write transaction, so two concurrent retries of the
// same job cannot both succeed.
func (s *SQLiteStore) Requeue(ctx context.Context, sourceID string, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	PrepareForEnqueue(job, time.Now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		source, err := getJob(ctx, tx, sourceID)
		if errors.Is(err, sql.ErrNoRows) {
			source, err = nil, nil
		}
		if err != nil {
			return err
		}
		if err := CheckRequeue(source); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET retried_by = ?, updated_at = ? WHERE id = ? AND retried_by IS NULL`,
			job.ID, formatTime(job.CreatedAt), sourceID,
		); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, sourceID, EventRequeued, source.Status, source.AttemptCount, job.ID, job.CreatedAt); err != nil {
			return err
		}
		return insertJob(ctx, tx, job)
	})
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrNotRetryable):
		return err
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	case err != nil:
		return fmt.Errorf("requeue job %s: %w", sourceID, err)
	}
	return nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job *Job) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (
            id, artifact_ref, captured_at, source, requires_network,
            attempt_count, max_attempts, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Input.ArtifactRef,
		formatTime(job.Input.CapturedAt),
		nullableString(job.Input.Source),
		boolToInt(job.Constraints.RequiresNetwork),
		job.AttemptCount,
		job.MaxAttempts,
		string(job.Status),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	); err != nil {
		return err
	}
	return insertEvent(ctx, tx, job.ID, EventEnqueued, job.Status, 0, job.Input.ArtifactRef, job.CreatedAt)
}

// PrepareForEnqueue fills the bookkeeping fields every backend sets on insert.
func PrepareForEnqueue(job *Job, now time.Time) {
	now = now.UTC()
	job.Status = StatusEnqueued
	job.AttemptCount = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	job.NextAttemptAt = nil
	job.HeartbeatAt = nil
	job.FinishedAt = nil
	job.PendingStatus = ""
	job.Decision = ""
}

// Get fetches a job by identifier. Unknown ids return nil, nil.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	job, err := getJob(ensureContext(ctx), s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status, oldest first.
func (s *SQLiteStore) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// NextReady returns jobs that may be dispatched at now. The filter applies
// before the limit, so held jobs never crowd out dispatchable ones.
func (s *SQLiteStore) NextReady(ctx context.Context, now time.Time, limit int, filter ReadyFilter) ([]*Job, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 1
	}
	query := `SELECT ` + jobColumns + ` FROM jobs
         WHERE (status = ? OR (status = ? AND next_attempt_at <= ?))`
	if filter.Offline {
		query += ` AND requires_network = 0`
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query,
		string(StatusEnqueued),
		string(StatusAwaitingRetry),
		formatTime(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("next ready jobs: %w", err)
	}
	return scanJobs(rows)
}

// NextWakeup returns the earliest next_attempt_at among awaiting jobs.
func (s *SQLiteStore) NextWakeup(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT MIN(next_attempt_at) FROM jobs WHERE status = ?`,
		string(StatusAwaitingRetry),
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("next wakeup: %w", err)
	}
	return parseNullTime(raw), nil
}

// Running returns all jobs in the running status.
func (s *SQLiteStore) Running(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, StatusRunning)
}

// History returns the job's append-only event log.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, job_id, kind, status, attempt, detail, created_at
         FROM job_events WHERE job_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("job history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			kind       string
			status     string
			detail     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&event.ID, &event.JobID, &kind, &status, &event.Attempt, &detail, &createdRaw); err != nil {
			return nil, err
		}
		event.Kind = EventKind(kind)
		event.Status = Status(status)
		event.Detail = detail.String
		event.At = parseTime(createdRaw)
		events = append(events, event)
	}
	return events, rows.Err()
}
