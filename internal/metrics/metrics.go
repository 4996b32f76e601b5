// Package metrics exposes job engine counters in the prometheus text format.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nutrilog/internal/events"
	"nutrilog/internal/queue"
)

const namespace = "nutrilog"

// StatsSource reports current per-status job counts.
type StatsSource interface {
	Stats(ctx context.Context) (map[queue.Status]int, error)
}

// Recorder tracks job transitions and serves them on /metrics.
type Recorder struct {
	registry *prometheus.Registry

	enqueued  prometheus.Counter
	attempts  prometheus.Counter
	retries   *prometheus.CounterVec
	finalized *prometheus.CounterVec
	deleted   prometheus.Counter
	duration  *prometheus.HistogramVec
	online    prometheus.Gauge

	mu      sync.Mutex
	started map[string]time.Time
}

// New registers the engine metrics on a private registry. When stats is not
// nil a collector reports queue depth per status at scrape time.
func New(stats StatsSource) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_enqueued_total",
			Help: "Jobs accepted into the durable queue.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "attempts_started_total",
			Help: "Attempts dispatched to the worker executor.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_scheduled_total",
			Help: "Retryable failures rescheduled with backoff, by error category.",
		}, []string{"category"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_finalized_total",
			Help: "Jobs reaching a terminal status, by status and cleanup decision.",
		}, []string{"status", "decision"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "artifacts_deleted_total",
			Help: "Photo artifacts removed by lifecycle cleanup.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "attempt_duration_seconds",
			Help:    "Wall time of a single attempt, by outcome.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
		}, []string{"outcome"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "network_online",
			Help: "1 when the connectivity probe reports the network constraint satisfied.",
		}),
		started: make(map[string]time.Time),
	}
	r.registry.MustRegister(
		r.enqueued, r.attempts, r.retries, r.finalized, r.deleted, r.duration, r.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		r.registry.MustRegister(newQueueCollector(stats))
	}
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetOnline records the connectivity state.
func (r *Recorder) SetOnline(online bool) {
	if online {
		r.online.Set(1)
		return
	}
	r.online.Set(0)
}

// Observe implements events.Observer.
func (r *Recorder) Observe(_ context.Context, ev events.Event) {
	switch ev.Type {
	case events.TypeEnqueued:
		r.enqueued.Inc()
	case events.TypeAttemptStarted:
		r.attempts.Inc()
		r.mu.Lock()
		r.started[ev.JobID] = ev.Timestamp
		r.mu.Unlock()
	case events.TypeRetryScheduled:
		r.retries.WithLabelValues(labelOrUnknown(ev.Category)).Inc()
		r.observeDuration(ev, "retry")
	case events.TypeSucceeded, events.TypeFailed:
		r.finalized.WithLabelValues(string(ev.Status), labelOrUnknown(ev.Decision)).Inc()
		if ev.Deleted {
			r.deleted.Inc()
		}
		r.observeDuration(ev, string(ev.Status))
	}
}

func (r *Recorder) observeDuration(ev events.Event, outcome string) {
	r.mu.Lock()
	start, ok := r.started[ev.JobID]
	delete(r.started, ev.JobID)
	r.mu.Unlock()
	if !ok || ev.Timestamp.Before(start) {
		return
	}
	r.duration.WithLabelValues(outcome).Observe(ev.Timestamp.Sub(start).Seconds())
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "none"
	}
	return value
}

type queueCollector struct {
	stats StatsSource
	depth *prometheus.Desc
}

func newQueueCollector(stats StatsSource) *queueCollector {
	return &queueCollector{
		stats: stats,
		depth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "jobs"),
			"Jobs currently stored, by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := c.stats.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.depth, err)
		return
	}
	for _, status := range queue.AllStatuses() {
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
}
