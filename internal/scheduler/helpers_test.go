package scheduler_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nutrilog/internal/artifact"
	"nutrilog/internal/events"
	"nutrilog/internal/executor"
	"nutrilog/internal/lifecycle"
	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/retry"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/services"
	"nutrilog/internal/services/analysis"
	"nutrilog/internal/services/healthstore"
	"nutrilog/internal/stage"
	"nutrilog/internal/testsupport"
)

const testDelay = 20 * time.Millisecond

func testSettings() scheduler.Settings {
	return scheduler.Settings{
		Workers:           2,
		PollInterval:      50 * time.Millisecond,
		ErrorBackoff:      50 * time.Millisecond,
		AttemptTimeout:    2 * time.Second,
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
		Policy: retry.Policy{
			MaxAttempts:  4,
			InitialDelay: testDelay,
			Multiplier:   2,
		},
	}
}

var (
	errTimeout     = services.Wrap(services.ErrTimeout, "analysis", "request", "deadline exceeded", nil)
	errOffline     = services.Wrap(services.ErrConnectivity, "analysis", "request", "connection refused", nil)
	errMalformed   = services.Wrap(services.ErrMalformedResponse, "analysis", "decode", "no JSON object", nil)
	errForbidden   = services.Wrap(services.ErrPermissionDenied, "healthstore", "save", "403 forbidden", nil)
	errStorageDown = services.Wrap(services.ErrServerFault, "healthstore", "save", "502 bad gateway", nil)
)

// scriptedAnalyzer fails call n with errs[n] and succeeds afterwards.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	hold    time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
	// duplicate is set when two attempts of one job overlap.
	duplicate atomic.Bool
	perJob    sync.Map
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, _ analysis.Image) (stage.AnalysisRecord, error) {
	current := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		seen := a.maxSeen.Load()
		if current <= seen || a.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		counter, _ := a.perJob.LoadOrStore(id, new(atomic.Int32))
		running := counter.(*atomic.Int32)
		if running.Add(1) > 1 {
			a.duplicate.Store(true)
		}
		defer running.Add(-1)
	}
	if a.hold > 0 {
		select {
		case <-time.After(a.hold):
		case <-ctx.Done():
			return stage.AnalysisRecord{}, ctx.Err()
		}
	}

	a.mu.Lock()
	n := a.calls
	a.calls++
	a.mu.Unlock()
	if n < len(a.errs) && a.errs[n] != nil {
		return stage.AnalysisRecord{}, a.errs[n]
	}
	return stage.AnalysisRecord{Calories: 540, Description: "Grilled Salmon", Confidence: 0.8, Model: "test"}, nil
}

func (a *scriptedAnalyzer) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("analysis")
}

func (a *scriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeRecorder struct {
	mu       sync.Mutex
	err      error
	requests []healthstore.Request
}

func (r *fakeRecorder) Save(_ context.Context, req healthstore.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return "", r.err
	}
	return "rec-" + req.IdempotencyKey[:8], nil
}

func (r *fakeRecorder) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("storage")
}

func (r *fakeRecorder) Requests() []healthstore.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]healthstore.Request(nil), r.requests...)
}

// countingDeleter counts successful deletions per reference.
type countingDeleter struct {
	inner *artifact.Manager
	mu    sync.Mutex
	count map[string]int
}

func (d *countingDeleter) Delete(ref string) (bool, error) {
	deleted, err := d.inner.Delete(ref)
	if deleted {
		d.mu.Lock()
		d.count[ref]++
		d.mu.Unlock()
	}
	return deleted, err
}

func (d *countingDeleter) Deletions(ref string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count[ref]
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Observe(_ context.Context, ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) OfType(t events.Type, jobID string) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.Type == t && ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	store    *queue.MemoryStore
	files    *artifact.Manager
	deleter  *countingDeleter
	analyzer *scriptedAnalyzer
	recorder *fakeRecorder
	events   *eventLog
	sched    *scheduler.Scheduler
	spool    string
}

func newHarness(t *testing.T, opts ...scheduler.Option) *harness {
	t.Helper()
	return newHarnessWithSettings(t, testSettings(), opts...)
}

func newHarnessWithSettings(t *testing.T, settings scheduler.Settings, opts ...scheduler.Option) *harness {
	t.Helper()
	spool := filepath.Join(t.TempDir(), "spool")
	files := artifact.NewManager(spool)
	h := &harness{
		t:        t,
		store:    queue.NewMemoryStore(),
		files:    files,
		deleter:  &countingDeleter{inner: files, count: map[string]int{}},
		analyzer: &scriptedAnalyzer{},
		recorder: &fakeRecorder{},
		events:   &eventLog{},
		spool:    spool,
	}
	bus := events.NewBus(0, logging.NewNop())
	bus.Register("log", h.events)
	exec := executor.New(files, h.analyzer, h.recorder, logging.NewNop())
	cleaner := lifecycle.NewManager(h.deleter, logging.NewNop())
	all := append([]scheduler.Option{scheduler.WithEvents(bus), scheduler.WithLogger(logging.NewNop())}, opts...)
	h.sched = scheduler.New(settings, h.store, exec, files, cleaner, all...)
	return h
}

func (h *harness) photo(name string) string {
	h.t.Helper()
	return testsupport.WritePhoto(h.t, h.spool, name)
}

func (h *harness) enqueue(ref string) string {
	h.t.Helper()
	id, err := h.sched.Enqueue(context.Background(), queue.Input{
		ArtifactRef: ref,
		CapturedAt:  time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC),
		Source:      "test",
	}, queue.Constraints{RequiresNetwork: true})
	if err != nil {
		h.t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.sched.Start(ctx); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.t.Cleanup(func() {
		h.sched.Stop()
		cancel()
	})
}

func (h *harness) waitTerminal(id string) *queue.Job {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.store.Get(context.Background(), id)
		if err != nil {
			h.t.Fatalf("Get: %v", err)
		}
		if job != nil && job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := h.store.Get(context.Background(), id)
	h.t.Fatalf("job %s did not finish: %v", id, job)
	return nil
}
