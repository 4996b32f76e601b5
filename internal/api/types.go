package api

import "nutrilog/internal/logging"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a queue job in a transport-friendly format.
type Job struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	ArtifactRef     string  `json:"artifactRef"`
	CapturedAt      string  `json:"capturedAt"`
	Source          string  `json:"source,omitempty"`
	RequiresNetwork bool    `json:"requiresNetwork"`
	AttemptCount    int     `json:"attemptCount"`
	MaxAttempts     int     `json:"maxAttempts"`
	NextAttemptAt   string  `json:"nextAttemptAt,omitempty"`
	LastError       string  `json:"lastError,omitempty"`
	ErrorCategory   string  `json:"errorCategory,omitempty"`
	Decision        string  `json:"decision,omitempty"`
	ArtifactDeleted bool    `json:"artifactDeleted"`
	StorageID       string  `json:"storageId,omitempty"`
	RetriedBy       string  `json:"retriedBy,omitempty"`
	Calories        float64 `json:"calories,omitempty"`
	Description     string  `json:"description,omitempty"`
	CreatedAt       string  `json:"createdAt,omitempty"`
	UpdatedAt       string  `json:"updatedAt,omitempty"`
	FinishedAt      string  `json:"finishedAt,omitempty"`
}

// JobEvent is one entry of a job's history.
type JobEvent struct {
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at"`
}

// SubmitRequest asks the daemon to enqueue a photo already on its filesystem.
type SubmitRequest struct {
	Path string `json:"path"`
	// CapturedAt is RFC3339; empty means the file modification time.
	CapturedAt string `json:"capturedAt,omitempty"`
	Import     bool   `json:"import"`
	Offline    bool   `json:"offline"`
	Source     string `json:"source,omitempty"`
}

// SubmitResponse reports the created job.
type SubmitResponse struct {
	JobID       string `json:"jobId"`
	ArtifactRef string `json:"artifactRef"`
	CapturedAt  string `json:"capturedAt"`
	Imported    bool   `json:"imported"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// HistoryResponse wraps a job's event history.
type HistoryResponse struct {
	JobID  string     `json:"jobId"`
	Events []JobEvent `json:"events"`
}

// RetryResult reports one re-queue outcome.
type RetryResult struct {
	JobID    string `json:"jobId"`
	NewJobID string `json:"newJobId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RetryResponse wraps retry outcomes.
type RetryResponse struct {
	Results []RetryResult `json:"results"`
	// Error repeats the failure of a single-job retry.
	Error string `json:"error,omitempty"`
}

// PurgeRequest selects finalized jobs older than OlderThanDays. Zero uses the
// configured retention.
type PurgeRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

// PurgeResponse reports how many jobs were removed.
type PurgeResponse struct {
	Removed int `json:"removed"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ComponentHealth mirrors readiness reporting for collaborators.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// SchedulerStatus summarizes scheduler execution state.
type SchedulerStatus struct {
	Running    bool            `json:"running"`
	Workers    int             `json:"workers"`
	Inflight   []string        `json:"inflight"`
	Online     bool            `json:"online"`
	LastError  string          `json:"lastError,omitempty"`
	LastJobID  string          `json:"lastJobId,omitempty"`
	QueueStats map[string]int  `json:"queueStats"`
	Health     ComponentHealth `json:"health"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	Version      string          `json:"version,omitempty"`
	StartedAt    string          `json:"startedAt,omitempty"`
	QueueBackend string          `json:"queueBackend"`
	QueueDBPath  string          `json:"queueDbPath,omitempty"`
	LockFilePath string          `json:"lockFilePath"`
	SpoolDir     string          `json:"spoolDir"`
	Scheduler    SchedulerStatus `json:"scheduler"`
	Preflight    []CheckResult   `json:"preflight,omitempty"`
	EventClients int             `json:"eventClients"`
}

// HealthResponse is the readiness probe payload.
type HealthResponse struct {
	Status string          `json:"status"`
	Health ComponentHealth `json:"health"`
}

// LogStreamResponse carries daemon log lines.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is returned for every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
