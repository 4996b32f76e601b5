package scheduler

import (
	"context"
	"sort"

	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/stage"
)

// StatusSummary is a point-in-time view of the scheduler.
type StatusSummary struct {
	Running    bool
	Workers    int
	Inflight   []string
	LastError  string
	LastJobID  string
	Online     bool
	QueueStats map[queue.Status]int
	Health     stage.Health
}

type onlineReporter interface {
	Online() bool
}

// Status returns the latest scheduler information.
func (s *Scheduler) Status(ctx context.Context) StatusSummary {
	s.mu.RLock()
	summary := StatusSummary{
		Running:   s.running,
		Workers:   s.settings.Workers,
		LastJobID: s.lastJob,
	}
	if s.lastErr != nil {
		summary.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	summary.Inflight = s.inflightIDs()
	sort.Strings(summary.Inflight)

	summary.Online = true
	if reporter, ok := s.gate.(onlineReporter); ok {
		summary.Online = reporter.Online()
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("failed to read queue stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "status omits queue counts"),
		)
	}
	summary.QueueStats = stats
	summary.Health = s.exec.HealthCheck(ctx)
	return summary
}
