// Package pgstore implements queue.Store on PostgreSQL so several daemons can
// share one queue. Claims use row locks with SKIP LOCKED.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nutrilog/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// Store is a PostgreSQL-backed queue.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ queue.Store = (*Store)(nil)

// Open connects to the DSN and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func insertEvent(ctx context.Context, tx pgx.Tx, jobID string, kind queue.EventKind, status queue.Status, attempt int, detail string, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO nutrilog_job_events (job_id, kind, status, attempt, detail, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		jobID, string(kind), string(status), attempt, nullableString(detail), at.UTC(),
	)
	return err
}

// Enqueue inserts a new job and its first history entry in one transaction.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	queue.PrepareForEnqueue(job, time.Now())
	job.Input.CapturedAt = job.Input.CapturedAt.UTC()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertJob(ctx, tx, job)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, job.ID)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Requeue inserts job as the retry of sourceID. The source row stays locked
// FOR UPDATE until commit, so a concurrent retry of the same job waits and
// then sees retried_by set.
func (s *Store) Requeue(ctx context.Context, sourceID string, job *queue.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	queue.PrepareForEnqueue(job, time.Now())
	job.Input.CapturedAt = job.Input.CapturedAt.UTC()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		source, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM nutrilog_jobs WHERE id = $1 FOR UPDATE`, sourceID))
		if errors.Is(err, pgx.ErrNoRows) {
			source, err = nil, nil
		}
		if err != nil {
			return err
		}
		if err := queue.CheckRequeue(source); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE nutrilog_jobs SET retried_by = $1, updated_at = $2 WHERE id = $3`,
			job.ID, job.CreatedAt, sourceID,
		); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, sourceID, queue.EventRequeued, source.Status, source.AttemptCount, job.ID, job.CreatedAt); err != nil {
			return err
		}
		return insertJob(ctx, tx, job)
	})
	switch {
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, queue.ErrNotRetryable):
		return err
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", queue.ErrDuplicateJob, job.ID)
	case err != nil:
		return fmt.Errorf("requeue job %s: %w", sourceID, err)
	}
	return nil
}

func insertJob(ctx context.Context, tx pgx.Tx, job *queue.Job) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO nutrilog_jobs (
            id, artifact_ref, captured_at, source, requires_network,
            attempt_count, max_attempts, status, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Input.ArtifactRef, job.Input.CapturedAt, nullableString(job.Input.Source),
		job.Constraints.RequiresNetwork, job.AttemptCount, job.MaxAttempts, string(job.Status),
		job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return err
	}
	return insertEvent(ctx, tx, job.ID, queue.EventEnqueued, job.Status, 0, job.Input.ArtifactRef, job.CreatedAt)
}

// Get fetches a job by identifier. Unknown ids return nil, nil.
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM nutrilog_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status, oldest first.
func (s *Store) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM nutrilog_jobs`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// NextReady returns dispatchable jobs in creation order. Filtering happens
// in SQL, before the limit.
func (s *Store) NextReady(ctx context.Context, now time.Time, limit int, filter queue.ReadyFilter) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM nutrilog_jobs
         WHERE (status = $1 OR (status = $2 AND next_attempt_at <= $3))
           AND (NOT $4 OR NOT requires_network)
         ORDER BY created_at, id
         LIMIT $5`,
		string(queue.StatusEnqueued), string(queue.StatusAwaitingRetry), now.UTC(), filter.Offline, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("next ready: %w", err)
	}
	return scanJobs(rows)
}

// NextWakeup returns the earliest next_attempt_at among awaiting jobs.
func (s *Store) NextWakeup(ctx context.Context) (*time.Time, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(next_attempt_at) FROM nutrilog_jobs WHERE status = $1`,
		string(queue.StatusAwaitingRetry),
	).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("next wakeup: %w", err)
	}
	if at != nil {
		utc := at.UTC()
		at = &utc
	}
	return at, nil
}

// Running returns all jobs in the running status.
func (s *Store) Running(ctx context.Context) ([]*queue.Job, error) {
	return s.List(ctx, queue.StatusRunning)
}

// History returns the job's append-only event log.
func (s *Store) History(ctx context.Context, id string) ([]queue.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, kind, status, attempt, detail, created_at
         FROM nutrilog_job_events WHERE job_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("job history: %w", err)
	}
	defer rows.Close()

	var events []queue.Event
	for rows.Next() {
		var (
			event  queue.Event
			kind   string
			status string
			detail *string
		)
		if err := rows.Scan(&event.ID, &event.JobID, &kind, &status, &event.Attempt, &detail, &event.At); err != nil {
			return nil, err
		}
		event.Kind = queue.EventKind(kind)
		event.Status = queue.Status(status)
		if detail != nil {
			event.Detail = *detail
		}
		event.At = event.At.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM nutrilog_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[queue.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[queue.Status(status)] = count
	}
	return stats, rows.Err()
}

// Purge removes terminal jobs finished before the cutoff.
func (s *Store) Purge(ctx context.Context, finishedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM nutrilog_jobs WHERE status = ANY($1) AND finished_at IS NOT NULL AND finished_at < $2`,
		[]string{string(queue.StatusSucceeded), string(queue.StatusFailed)}, finishedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func statusStrings(statuses []queue.Status) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// Reset drops every job and event. Intended for disposable test databases.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE nutrilog_job_events, nutrilog_jobs`)
	return err
}
