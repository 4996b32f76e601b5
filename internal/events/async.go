package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nutrilog/internal/logging"
)

// AsyncObserver delivers events to a wrapped observer on its own goroutine.
// When the buffer is full new events are dropped and counted.
type AsyncObserver struct {
	name     string
	next     Observer
	ch       chan Event
	timeout  time.Duration
	logger   *slog.Logger
	dropped  atomic.Int64
	closeMu  sync.Mutex
	closed   bool
	finished chan struct{}
}

// Async starts a delivery goroutine for next. Each delivery gets its own
// context bounded by timeout so a closed scheduler context does not abort
// in-flight notifications.
func Async(name string, next Observer, buffer int, timeout time.Duration, logger *slog.Logger) *AsyncObserver {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &AsyncObserver{
		name:     name,
		next:     next,
		ch:       make(chan Event, buffer),
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "events"),
		finished: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncObserver) run() {
	defer close(a.finished)
	for ev := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		a.next.Observe(ctx, ev)
		cancel()
	}
}

// Observe enqueues ev for delivery without blocking.
func (a *AsyncObserver) Observe(_ context.Context, ev Event) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		if a.dropped.Add(1) == 1 {
			logging.WarnWithContext(a.logger, "observer backlog full; dropping events", "observer_backlog",
				logging.String("observer", a.name),
				logging.String(logging.FieldImpact, "some job events were not delivered"),
				logging.String(logging.FieldErrorHint, "check the observer's remote endpoint"),
			)
		}
	}
}

// Dropped returns how many events were discarded.
func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for the backlog to drain or ctx to end.
func (a *AsyncObserver) Close(ctx context.Context) error {
	a.closeMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.closeMu.Unlock()
	select {
	case <-a.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
