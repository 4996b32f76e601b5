package pgstore

import (
	"time"

	"github.com/jackc/pgx/v5"

	"nutrilog/internal/queue"
)

const jobColumns = "id, artifact_ref, captured_at, source, requires_network, attempt_count, max_attempts, status, next_attempt_at, last_error, error_category, pending_status, decision, artifact_deleted, storage_id, calories, description, retried_by, created_at, updated_at, heartbeat_at, finished_at"

func scanJob(row pgx.Row) (*queue.Job, error) {
	var (
		job           queue.Job
		source        *string
		status        string
		lastError     *string
		errorCategory *string
		pendingStatus *string
		decision      *string
		storageID     *string
		calories      *float64
		description   *string
		retriedBy     *string
	)
	if err := row.Scan(
		&job.ID,
		&job.Input.ArtifactRef,
		&job.Input.CapturedAt,
		&source,
		&job.Constraints.RequiresNetwork,
		&job.AttemptCount,
		&job.MaxAttempts,
		&status,
		&job.NextAttemptAt,
		&lastError,
		&errorCategory,
		&pendingStatus,
		&decision,
		&job.ArtifactDeleted,
		&storageID,
		&calories,
		&description,
		&retriedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.HeartbeatAt,
		&job.FinishedAt,
	); err != nil {
		return nil, err
	}
	job.Status = queue.Status(status)
	job.Input.Source = deref(source)
	job.LastError = deref(lastError)
	job.ErrorCategory = deref(errorCategory)
	job.PendingStatus = queue.Status(deref(pendingStatus))
	job.Decision = deref(decision)
	job.StorageID = deref(storageID)
	job.Description = deref(description)
	job.RetriedBy = deref(retriedBy)
	if calories != nil {
		job.Calories = *calories
	}
	job.Input.CapturedAt = job.Input.CapturedAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.NextAttemptAt = utcPtr(job.NextAttemptAt)
	job.HeartbeatAt = utcPtr(job.HeartbeatAt)
	job.FinishedAt = utcPtr(job.FinishedAt)
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*queue.Job, error) {
	defer rows.Close()
	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
