package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"exists"`
	DatabaseReadable bool   `json:"readable"`
	SchemaVersion    int    `json:"schema_version"`
	IntegrityCheck   bool   `json:"integrity_ok"`
	TotalJobs        int    `json:"total_jobs"`
	TotalEvents      int    `json:"total_events"`
	Error            string `json:"error,omitempty"`
}

// Stats returns a count of jobs grouped by status.
func (s *SQLiteStore) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Purge removes terminal jobs finished before the cutoff. Their history rows
// remain in job_events.
func (s *SQLiteStore) Purge(ctx context.Context, finishedBefore time.Time) (int, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
			string(StatusSucceeded), string(StatusFailed), formatTime(finishedBefore),
		)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return int(removed), nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	checks := []struct {
		query string
		dest  any
	}{
		{"PRAGMA user_version", &health.SchemaVersion},
		{"SELECT COUNT(*) FROM jobs", &health.TotalJobs},
		{"SELECT COUNT(*) FROM job_events", &health.TotalEvents},
	}
	for _, check := range checks {
		if err := s.db.QueryRowContext(connCtx, check.query).Scan(check.dest); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("health query %q: %w", check.query, err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
