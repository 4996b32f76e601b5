package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nutrilog/internal/logging"
)

const defaultCapacity = 256

type namedObserver struct {
	name     string
	observer Observer
}

// Bus stores recent events and fans them out to observers.
type Bus struct {
	mu        sync.Mutex
	capacity  int
	buffer    []Event
	nextSeq   uint64
	observers []namedObserver
	logger    *slog.Logger
}

// NewBus constructs a bus retaining up to capacity recent events.
func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		capacity: capacity,
		logger:   logging.NewComponentLogger(logger, "events"),
	}
}

// Register adds an observer. Observers run in registration order.
func (b *Bus) Register(name string, observer Observer) {
	if b == nil || observer == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, namedObserver{name: name, observer: observer})
	b.mu.Unlock()
}

// Observers returns the registered observer names.
func (b *Bus) Observers() []string {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.observers))
	for _, o := range b.observers {
		names = append(names, o.name)
	}
	return names
}

// Publish assigns the next sequence number, buffers the event and delivers it.
func (b *Bus) Publish(ctx context.Context, ev Event) Event {
	if b == nil {
		return ev
	}
	b.mu.Lock()
	b.nextSeq++
	ev.Sequence = b.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if len(b.buffer) == b.capacity {
		copy(b.buffer, b.buffer[1:])
		b.buffer = b.buffer[:b.capacity-1]
	}
	b.buffer = append(b.buffer, ev)
	observers := append([]namedObserver(nil), b.observers...)
	b.mu.Unlock()

	for _, o := range observers {
		b.deliver(ctx, o, ev)
	}
	return ev
}

func (b *Bus) deliver(ctx context.Context, o namedObserver, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.WarnWithContext(b.logger, "observer panicked", "observer_panic",
				logging.String("observer", o.name),
				logging.String(logging.FieldJobID, ev.JobID),
				logging.Any("panic", r),
				logging.String(logging.FieldImpact, "event not delivered to this observer"),
			)
		}
	}()
	o.observer.Observe(ctx, ev)
}

// Since returns buffered events with a sequence greater than since, up to
// limit, plus the latest sequence number.
func (b *Bus) Since(since uint64, limit int) ([]Event, uint64) {
	if b == nil {
		return nil, 0
	}
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, limit)
	for _, ev := range b.buffer {
		if ev.Sequence <= since {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, b.nextSeq
}

// Tail returns the most recent limit events.
func (b *Bus) Tail(limit int) []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.buffer) {
		limit = len(b.buffer)
	}
	out := make([]Event, limit)
	copy(out, b.buffer[len(b.buffer)-limit:])
	return out
}
