package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by tests and ephemeral daemons.
// It applies the same conditional transitions as the SQL backends.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	events []Event
	nextID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (m *MemoryStore) appendEvent(jobID string, kind EventKind, status Status, attempt int, detail string, at time.Time) {
	m.nextID++
	m.events = append(m.events, Event{
		ID:      m.nextID,
		JobID:   jobID,
		Kind:    kind,
		Status:  status,
		Attempt: attempt,
		Detail:  detail,
		At:      at.UTC(),
	})
}

func (m *MemoryStore) Enqueue(_ context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(job)
}

func (m *MemoryStore) insertLocked(job *Job) error {
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	PrepareForEnqueue(job, time.Now())
	job.Input.CapturedAt = job.Input.CapturedAt.UTC()
	m.jobs[job.ID] = job.Clone()
	m.appendEvent(job.ID, EventEnqueued, job.Status, 0, job.Input.ArtifactRef, job.CreatedAt)
	return nil
}

func (m *MemoryStore) Requeue(_ context.Context, sourceID string, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	source := m.jobs[sourceID]
	if err := CheckRequeue(source); err != nil {
		return err
	}
	if err := m.insertLocked(job); err != nil {
		return err
	}
	source.RetriedBy = job.ID
	source.UpdatedAt = job.CreatedAt
	m.appendEvent(sourceID, EventRequeued, source.Status, source.AttemptCount, job.ID, job.CreatedAt)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, statuses ...Status) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filter := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		filter[status] = struct{}{}
	}
	var out []*Job
	for _, job := range m.jobs {
		if len(filter) > 0 {
			if _, ok := filter[job.Status]; !ok {
				continue
			}
		}
		out = append(out, job.Clone())
	}
	sortJobs(out)
	return out, nil
}

func (m *MemoryStore) NextReady(_ context.Context, now time.Time, limit int, filter ReadyFilter) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*Job
	for _, job := range m.jobs {
		if filter.Offline && job.Constraints.RequiresNetwork {
			continue
		}
		switch job.Status {
		case StatusEnqueued:
			ready = append(ready, job.Clone())
		case StatusAwaitingRetry:
			if job.NextAttemptAt != nil && !job.NextAttemptAt.After(now) {
				ready = append(ready, job.Clone())
			}
		}
	}
	sortJobs(ready)
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (m *MemoryStore) NextWakeup(_ context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest *time.Time
	for _, job := range m.jobs {
		if job.Status != StatusAwaitingRetry || job.NextAttemptAt == nil {
			continue
		}
		if earliest == nil || job.NextAttemptAt.Before(*earliest) {
			earliest = cloneTime(job.NextAttemptAt)
		}
	}
	return earliest, nil
}

func (m *MemoryStore) MarkAttempt(_ context.Context, id string, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("mark attempt: %w", ErrJobNotFound)
	}
	if !job.Status.Dispatchable() || job.AttemptCount >= job.MaxAttempts {
		return nil, fmt.Errorf("mark attempt: %w", ErrNotDispatchable)
	}
	now = now.UTC()
	job.Status = StatusRunning
	job.AttemptCount++
	job.NextAttemptAt = nil
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	m.appendEvent(id, EventAttemptStarted, StatusRunning, job.AttemptCount, "", now)
	return job.Clone(), nil
}

func (m *MemoryStore) Heartbeat(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && job.Status == StatusRunning {
		now = now.UTC()
		job.HeartbeatAt = &now
	}
	return nil
}

func (m *MemoryStore) Reschedule(_ context.Context, id string, at time.Time, cause Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("reschedule: %w", ErrJobNotFound)
	}
	if job.Status != StatusRunning || job.PendingStatus != "" {
		return fmt.Errorf("reschedule: %w", ErrNotRunning)
	}
	at = at.UTC()
	now := time.Now().UTC()
	job.Status = StatusAwaitingRetry
	job.NextAttemptAt = &at
	job.LastError = cause.Message
	job.ErrorCategory = cause.Category
	job.HeartbeatAt = nil
	job.UpdatedAt = now
	m.appendEvent(id, EventRetryScheduled, StatusAwaitingRetry, job.AttemptCount,
		fmt.Sprintf("retry at %s: %s", formatTime(at), cause.Message), now)
	return nil
}

func (m *MemoryStore) RecordDecision(_ context.Context, id string, fin Finalization, now time.Time) error {
	if !fin.Status.IsTerminal() {
		return fmt.Errorf("record decision: status %q is not terminal", fin.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("record decision: %w", ErrJobNotFound)
	}
	if job.Status != StatusRunning {
		return fmt.Errorf("record decision: %w", ErrNotRunning)
	}
	job.PendingStatus = fin.Status
	job.Decision = fin.Decision
	job.LastError = fin.Failure.Message
	job.ErrorCategory = fin.Failure.Category
	job.StorageID = fin.StorageID
	job.Calories = fin.Calories
	job.Description = fin.Description
	job.UpdatedAt = now.UTC()
	detail := fmt.Sprintf("status=%s decision=%s", fin.Status, fin.Decision)
	if fin.Failure.Message != "" {
		detail += ": " + fin.Failure.Message
	}
	m.appendEvent(id, EventDecisionRecord, StatusRunning, job.AttemptCount, detail, now)
	return nil
}

func (m *MemoryStore) Finalize(_ context.Context, id string, artifactDeleted bool, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("finalize: %w", ErrJobNotFound)
	}
	if job.Status.IsTerminal() {
		return job.Clone(), nil
	}
	if !job.DecisionPending() {
		return nil, fmt.Errorf("finalize: %w", ErrNotRunning)
	}
	now = now.UTC()
	job.Status = job.PendingStatus
	job.PendingStatus = ""
	job.ArtifactDeleted = artifactDeleted
	job.NextAttemptAt = nil
	job.HeartbeatAt = nil
	job.FinishedAt = &now
	job.UpdatedAt = now
	m.appendEvent(id, EventFinalized, job.Status, job.AttemptCount,
		fmt.Sprintf("decision=%s artifact_deleted=%t", job.Decision, artifactDeleted), now)
	return job.Clone(), nil
}

func (m *MemoryStore) Running(ctx context.Context) ([]*Job, error) {
	return m.List(ctx, StatusRunning)
}

func (m *MemoryStore) History(_ context.Context, id string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, event := range m.events {
		if event.JobID == id {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[Status]int)
	for _, job := range m.jobs {
		stats[job.Status]++
	}
	return stats, nil
}

func (m *MemoryStore) Purge(_ context.Context, finishedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(finishedBefore) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
