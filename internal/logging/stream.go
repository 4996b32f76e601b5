package logging

import (
	"context"
	"sync"
	"time"
)

// LogEvent is one log line as served by GET /api/logs.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent log events in a fixed ring. Sequences are
// contiguous, so the ring position of any buffered sequence is computed
// rather than searched.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	head    int // ring index of the oldest buffered event
	count   int
	lastSeq uint64
	// notify is closed and replaced on every Publish to wake followers.
	notify chan struct{}
}

// NewStreamHub returns a hub holding up to capacity events (512 when <= 0).
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{
		ring:   make([]LogEvent, capacity),
		notify: make(chan struct{}),
	}
}

// Publish assigns the next sequence to evt and buffers it, evicting the
// oldest event when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	capacity := len(h.ring)
	if h.count < capacity {
		h.ring[(h.head+h.count)%capacity] = evt
		h.count++
	} else {
		h.ring[h.head] = evt
		h.head = (h.head + 1) % capacity
	}
	wake := h.notify
	h.notify = make(chan struct{})
	h.mu.Unlock()

	close(wake)
}

// Fetch returns up to limit events newer than since, along with the sequence
// to pass as since on the next call. With wait set and nothing newer buffered
// it blocks until a Publish or until ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		h.mu.Lock()
		events, next := h.afterLocked(since, limit)
		wake := h.notify
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, next, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, next, ctx.Err()
		}
	}
}

// Tail returns the newest limit events and the latest sequence.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	if limit == 0 {
		return nil, h.lastSeq
	}
	return h.copyLocked(h.count-limit, limit), h.lastSeq
}

// FirstSequence reports the oldest buffered sequence, or the latest sequence
// when the hub is empty.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return h.lastSeq
	}
	return h.firstLocked()
}

func (h *StreamHub) firstLocked() uint64 {
	return h.lastSeq - uint64(h.count) + 1
}

func (h *StreamHub) afterLocked(since uint64, limit int) ([]LogEvent, uint64) {
	if h.count == 0 || since >= h.lastSeq {
		return nil, h.lastSeq
	}
	offset := 0
	if first := h.firstLocked(); since >= first {
		offset = int(since - first + 1)
	}
	n := h.count - offset
	if limit > 0 && limit < n {
		n = limit
	}
	out := h.copyLocked(offset, n)
	return out, out[len(out)-1].Sequence
}

func (h *StreamHub) copyLocked(offset, n int) []LogEvent {
	out := make([]LogEvent, n)
	capacity := len(h.ring)
	for i := range out {
		out[i] = h.ring[(h.head+offset+i)%capacity]
	}
	return out
}
