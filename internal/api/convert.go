package api

import (
	"time"

	"nutrilog/internal/preflight"
	"nutrilog/internal/queue"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/stage"
)

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:              job.ID,
		Status:          string(job.Status),
		ArtifactRef:     job.Input.ArtifactRef,
		CapturedAt:      formatTime(job.Input.CapturedAt),
		Source:          job.Input.Source,
		RequiresNetwork: job.Constraints.RequiresNetwork,
		AttemptCount:    job.AttemptCount,
		MaxAttempts:     job.MaxAttempts,
		NextAttemptAt:   formatTimePtr(job.NextAttemptAt),
		LastError:       job.LastError,
		ErrorCategory:   job.ErrorCategory,
		Decision:        job.Decision,
		ArtifactDeleted: job.ArtifactDeleted,
		StorageID:       job.StorageID,
		RetriedBy:       job.RetriedBy,
		Calories:        job.Calories,
		Description:     job.Description,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
		FinishedAt:      formatTimePtr(job.FinishedAt),
	}
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromEvents converts history rows.
func FromEvents(history []queue.Event) []JobEvent {
	out := make([]JobEvent, 0, len(history))
	for _, ev := range history {
		out = append(out, JobEvent{
			Kind:    string(ev.Kind),
			Status:  string(ev.Status),
			Attempt: ev.Attempt,
			Detail:  ev.Detail,
			At:      formatTime(ev.At),
		})
	}
	return out
}

// MergeQueueStats keys queue counts by status string and fills in zeroes so
// every status is present.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out
}

// FromHealth converts a stage health record.
func FromHealth(h stage.Health) ComponentHealth {
	return ComponentHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail}
}

// FromStatusSummary converts the scheduler status.
func FromStatusSummary(summary scheduler.StatusSummary) SchedulerStatus {
	inflight := summary.Inflight
	if inflight == nil {
		inflight = []string{}
	}
	return SchedulerStatus{
		Running:    summary.Running,
		Workers:    summary.Workers,
		Inflight:   inflight,
		Online:     summary.Online,
		LastError:  summary.LastError,
		LastJobID:  summary.LastJobID,
		QueueStats: MergeQueueStats(summary.QueueStats),
		Health:     FromHealth(summary.Health),
	}
}

// FromPreflight converts preflight results.
func FromPreflight(results []preflight.Result) []CheckResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromRetryResults converts scheduler retry outcomes.
func FromRetryResults(results []scheduler.RetryResult) []RetryResult {
	out := make([]RetryResult, 0, len(results))
	for _, r := range results {
		dto := RetryResult{JobID: r.JobID, NewJobID: r.NewJobID}
		if r.Err != nil {
			dto.Error = r.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}

// ParseTime reads a timestamp written by formatTime or any RFC3339 value.
func ParseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
