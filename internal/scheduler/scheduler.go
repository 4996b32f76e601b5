package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nutrilog/internal/artifact"
	"nutrilog/internal/config"
	"nutrilog/internal/connectivity"
	"nutrilog/internal/events"
	"nutrilog/internal/lifecycle"
	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/retry"
	"nutrilog/internal/stage"
)

// Resolver checks that an artifact reference points at a readable photo.
type Resolver interface {
	Resolve(ref string) (artifact.Artifact, error)
}

// Cleaner applies lifecycle decisions.
type Cleaner interface {
	Apply(ctx context.Context, job *queue.Job, decision lifecycle.Decision) (lifecycle.Result, error)
}

// Settings holds the timing and sizing knobs of the scheduler.
type Settings struct {
	Workers           int
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	AttemptTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Retention         time.Duration
	// SharedStore is set when other daemons may hold running jobs in the same
	// store. Startup recovery then only reclaims jobs with stale heartbeats.
	SharedStore bool
	Policy      retry.Policy
}

// SettingsFrom derives scheduler settings from the loaded configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Workers:           cfg.Workflow.Workers,
		PollInterval:      cfg.Workflow.PollInterval(),
		ErrorBackoff:      cfg.Workflow.ErrorBackoff(),
		AttemptTimeout:    cfg.Workflow.AttemptBound(),
		HeartbeatInterval: cfg.Workflow.HeartbeatEvery(),
		HeartbeatTimeout:  cfg.Workflow.HeartbeatExpiry(),
		Retention:         cfg.Queue.Retention(),
		SharedStore:       cfg.Queue.Backend == "postgres",
		Policy:            retry.FromConfig(cfg.Retry),
	}
}

func (s Settings) withDefaults() Settings {
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.ErrorBackoff <= 0 {
		s.ErrorBackoff = 10 * time.Second
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = 90 * time.Second
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 15 * time.Second
	}
	if s.HeartbeatTimeout <= s.HeartbeatInterval {
		s.HeartbeatTimeout = 8 * s.HeartbeatInterval
	}
	if s.Policy.MaxAttempts < 1 {
		s.Policy = retry.DefaultPolicy()
	}
	return s
}

// Option configures optional collaborators.
type Option func(*Scheduler)

// WithGate sets the constraint gate. The default gate always passes.
func WithGate(gate connectivity.Gate) Option {
	return func(s *Scheduler) {
		if gate != nil {
			s.gate = gate
		}
	}
}

// WithGateWakeups makes the dispatch loop re-check ready jobs whenever the
// channel fires, typically on connectivity transitions.
func WithGateWakeups(ch <-chan struct{}) Option {
	return func(s *Scheduler) {
		s.gateWake = ch
	}
}

// WithEvents publishes every transition on bus.
func WithEvents(bus *events.Bus) Option {
	return func(s *Scheduler) {
		s.bus = bus
	}
}

// WithClock replaces the wall clock used for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.NewComponentLogger(logger, "scheduler")
	}
}

// Scheduler dispatches jobs from the durable store to the executor.
type Scheduler struct {
	settings Settings
	store    queue.Store
	exec     stage.Executor
	files    Resolver
	cleaner  Cleaner
	gate     connectivity.Gate
	gateWake <-chan struct{}
	bus      *events.Bus
	now      func() time.Time
	logger   *slog.Logger

	wake chan struct{}
	work chan *queue.Job

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastJob  string
	inflight map[string]struct{}
}

// New constructs a scheduler. store, exec, files and cleaner are required.
func New(settings Settings, store queue.Store, exec stage.Executor, files Resolver, cleaner Cleaner, opts ...Option) *Scheduler {
	s := &Scheduler{
		settings: settings.withDefaults(),
		store:    store,
		exec:     exec,
		files:    files,
		cleaner:  cleaner,
		gate:     connectivity.Always{},
		now:      time.Now,
		logger:   logging.NewComponentLogger(nil, "scheduler"),
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the effective settings.
func (s *Scheduler) Settings() Settings {
	return s.settings
}

func (s *Scheduler) clock() time.Time {
	return s.now().UTC()
}

// signal wakes the dispatch loop without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// claim marks id as in flight. It fails when the id is already running in
// this process or every worker is busy.
func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	if len(s.inflight) >= s.settings.Workers {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Scheduler) isInflight(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inflight[id]
	return ok
}

func (s *Scheduler) freeWorkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Workers - len(s.inflight)
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Scheduler) setLastJob(id string) {
	s.mu.Lock()
	s.lastJob = id
	s.mu.Unlock()
}

func (s *Scheduler) publish(ctx context.Context, t events.Type, job *queue.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.FromJob(t, job, s.clock()))
}

// persistContext detaches store writes from shutdown so an outcome reached
// while stopping is still recorded.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
}
