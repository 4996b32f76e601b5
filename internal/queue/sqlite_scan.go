package queue

import (
	"context"
	"database/sql"
	"time"
)

const jobColumns = "id, artifact_ref, captured_at, source, requires_network, attempt_count, max_attempts, status, next_attempt_at, last_error, error_category, pending_status, decision, artifact_deleted, storage_id, calories, description, retried_by, created_at, updated_at, heartbeat_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		artifactRef     string
		capturedRaw     string
		source          sql.NullString
		requiresNetwork int
		attemptCount    int
		maxAttempts     int
		statusStr       string
		nextAttemptRaw  sql.NullString
		lastError       sql.NullString
		errorCategory   sql.NullString
		pendingStatus   sql.NullString
		decision        sql.NullString
		artifactDeleted int
		storageID       sql.NullString
		calories        sql.NullFloat64
		description     sql.NullString
		retriedBy       sql.NullString
		createdRaw      string
		updatedRaw      string
		heartbeatRaw    sql.NullString
		finishedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&artifactRef,
		&capturedRaw,
		&source,
		&requiresNetwork,
		&attemptCount,
		&maxAttempts,
		&statusStr,
		&nextAttemptRaw,
		&lastError,
		&errorCategory,
		&pendingStatus,
		&decision,
		&artifactDeleted,
		&storageID,
		&calories,
		&description,
		&retriedBy,
		&createdRaw,
		&updatedRaw,
		&heartbeatRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID: id,
		Input: Input{
			ArtifactRef: artifactRef,
			CapturedAt:  parseTime(capturedRaw),
			Source:      source.String,
		},
		Constraints:     Constraints{RequiresNetwork: requiresNetwork != 0},
		AttemptCount:    attemptCount,
		MaxAttempts:     maxAttempts,
		Status:          Status(statusStr),
		NextAttemptAt:   parseNullTime(nextAttemptRaw),
		LastError:       lastError.String,
		ErrorCategory:   errorCategory.String,
		PendingStatus:   Status(pendingStatus.String),
		Decision:        decision.String,
		ArtifactDeleted: artifactDeleted != 0,
		StorageID:       storageID.String,
		Calories:        calories.Float64,
		Description:     description.String,
		RetriedBy:       retriedBy.String,
		CreatedAt:       parseTime(createdRaw),
		UpdatedAt:       parseTime(updatedRaw),
		HeartbeatAt:     parseNullTime(heartbeatRaw),
		FinishedAt:      parseNullTime(finishedRaw),
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q queryer, id string) (*Job, error) {
	return scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func insertEvent(ctx context.Context, tx *sql.Tx, jobID string, kind EventKind, status Status, attempt int, detail string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, kind, status, attempt, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, string(kind), string(status), attempt, nullableString(detail), formatTime(at),
	)
	return err
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
