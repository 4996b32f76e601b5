package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nutrilog/internal/api"
	"nutrilog/internal/queue"
)

// queueAPI is the read and maintenance surface shared by the daemon API and
// direct store access.
type queueAPI interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.Job, error)
	// Describe returns nil when the job does not exist.
	Describe(ctx context.Context, id string) (*api.Job, error)
	History(ctx context.Context, id string) ([]api.JobEvent, error)
	Purge(ctx context.Context, olderThanDays int) (int, error)
}

// --- HTTP adapter ---

type queueHTTPAdapter struct {
	client *api.Client
}

func (a *queueHTTPAdapter) Stats(ctx context.Context) (map[string]int, error) {
	return a.client.Stats(ctx)
}

func (a *queueHTTPAdapter) List(ctx context.Context, statuses []string) ([]api.Job, error) {
	return a.client.ListJobs(ctx, statuses)
}

func (a *queueHTTPAdapter) Describe(ctx context.Context, id string) (*api.Job, error) {
	job, err := a.client.GetJob(ctx, id)
	if api.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (a *queueHTTPAdapter) History(ctx context.Context, id string) ([]api.JobEvent, error) {
	events, err := a.client.History(ctx, id)
	if api.IsNotFound(err) {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return events, err
}

func (a *queueHTTPAdapter) Purge(ctx context.Context, olderThanDays int) (int, error) {
	return a.client.Purge(ctx, olderThanDays)
}

// --- store adapter ---

type queueStoreAdapter struct {
	store     queue.Store
	retention time.Duration
}

func (a *queueStoreAdapter) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return api.MergeQueueStats(stats), nil
}

func (a *queueStoreAdapter) List(ctx context.Context, statuses []string) ([]api.Job, error) {
	parsed, err := parseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	jobs, err := a.store.List(ctx, parsed...)
	if err != nil {
		return nil, err
	}
	return api.FromJobs(jobs), nil
}

func (a *queueStoreAdapter) Describe(ctx context.Context, id string) (*api.Job, error) {
	job, err := a.store.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	converted := api.FromJob(job)
	return &converted, nil
}

func (a *queueStoreAdapter) History(ctx context.Context, id string) ([]api.JobEvent, error) {
	job, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	events, err := a.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return api.FromEvents(events), nil
}

func (a *queueStoreAdapter) Purge(ctx context.Context, olderThanDays int) (int, error) {
	olderThan := a.retention
	if olderThanDays > 0 {
		olderThan = time.Duration(olderThanDays) * 24 * time.Hour
	}
	if olderThan <= 0 {
		return 0, nil
	}
	return a.store.Purge(ctx, time.Now().UTC().Add(-olderThan))
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown status %q", part)
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}
