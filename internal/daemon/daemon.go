package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"nutrilog/internal/api"
	"nutrilog/internal/config"
	"nutrilog/internal/connectivity"
	"nutrilog/internal/events"
	"nutrilog/internal/logging"
	"nutrilog/internal/metrics"
	"nutrilog/internal/preflight"
	"nutrilog/internal/queue"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/submit"
)

// Components are the collaborators the daemon coordinates. Store, Scheduler
// and Submitter are required; the rest are optional.
type Components struct {
	Store     queue.Store
	Scheduler *scheduler.Scheduler
	Submitter *submit.Submitter
	Hub       *events.Hub
	Monitor   *connectivity.Monitor
	Logs      *logging.StreamHub
	Metrics   *metrics.Recorder
	Version   string
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.RWMutex
	startedAt time.Time
	preflight []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || comps.Store == nil || comps.Scheduler == nil || comps.Submitter == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and submitter")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		comps:    comps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg.Paths.APIBind, d.Handler(), logger)
	return d, nil
}

// Handler returns the HTTP API served by the daemon.
func (d *Daemon) Handler() http.Handler {
	opts := api.RouterOptions{
		Token:   d.cfg.Paths.APIToken,
		Queue:   api.NewQueueService(d.comps.Store),
		Backend: d,
		Logger:  d.logger,
	}
	if d.comps.Hub != nil {
		opts.Events = d.comps.Hub
	}
	if d.comps.Metrics != nil && d.cfg.Metrics.Enabled {
		opts.Metrics = d.comps.Metrics.Handler()
	}
	if d.comps.Logs != nil {
		opts.Logs = d.comps.Logs
	}
	return api.NewRouter(opts)
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another nutrilog daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if d.comps.Hub != nil {
		go d.comps.Hub.Run(d.ctx)
	}
	if d.comps.Monitor != nil {
		d.comps.Monitor.Start(d.ctx)
	}
	d.runPreflight(d.ctx)

	if err := d.comps.Scheduler.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.comps.Scheduler.Stop()
		d.abortStart()
		return err
	}

	d.mu.Lock()
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("nutrilog daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
		logging.String("queue_backend", d.cfg.Queue.Backend),
	)
	return nil
}

func (d *Daemon) abortStart() {
	if d.cancel != nil {
		d.cancel()
	}
	_ = d.lock.Unlock()
	d.ctx = nil
	d.cancel = nil
}

func (d *Daemon) runPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	d.mu.Lock()
	d.preflight = results
	d.mu.Unlock()
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run 'nutrilog status' for the full preflight report"),
			logging.String(logging.FieldImpact, "jobs may fail or stay blocked until the check passes"),
		)
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.comps.Scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "the next daemon start may be refused"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("nutrilog daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.comps.Store.Close()
}

// APIAddress reports the address the API server is bound to, or "" before
// Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Submit enqueues a photo submitted over the API.
func (d *Daemon) Submit(ctx context.Context, req submit.Request) (submit.Result, error) {
	return d.comps.Submitter.Submit(ctx, req)
}

// Retry re-queues finished jobs as new jobs.
func (d *Daemon) Retry(ctx context.Context, ids ...string) ([]scheduler.RetryResult, error) {
	return d.comps.Scheduler.Retry(ctx, ids...)
}

// Purge removes finalized jobs older than olderThan; zero uses the configured
// retention.
func (d *Daemon) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	return d.comps.Scheduler.Purge(ctx, olderThan)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.RLock()
	startedAt := d.startedAt
	results := d.preflight
	d.mu.RUnlock()

	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Version:      d.comps.Version,
		QueueBackend: d.cfg.Queue.Backend,
		LockFilePath: d.lockPath,
		SpoolDir:     d.cfg.Paths.SpoolDir,
		Scheduler:    api.FromStatusSummary(d.comps.Scheduler.Status(ctx)),
		Preflight:    api.FromPreflight(results),
	}
	if d.cfg.Queue.Backend == "sqlite" {
		status.QueueDBPath = d.cfg.QueueDBPath()
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.Format(time.RFC3339)
	}
	if d.comps.Hub != nil {
		status.EventClients = d.comps.Hub.ClientCount()
	}
	return status
}
