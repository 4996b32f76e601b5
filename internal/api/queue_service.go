package api

import (
	"context"
	"strings"

	"nutrilog/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	History(ctx context.Context, id string) ([]queue.Event, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns jobs filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]Job, error) {
	if s == nil || s.store == nil {
		return []Job{}, nil
	}
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return MergeQueueStats(nil), nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single job. It returns nil when the id is unknown.
func (s *QueueService) Describe(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// History returns the event history of a job. It returns nil when the id is
// unknown.
func (s *QueueService) History(ctx context.Context, id string) ([]JobEvent, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	job, err := s.store.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromEvents(history), nil
}
