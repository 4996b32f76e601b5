package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"nutrilog/internal/config"
	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
)

// DialFunc opens a probe connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Monitor periodically probes TCP targets. The network counts as available
// when any target accepts a connection.
type Monitor struct {
	targets  []string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	logger   *slog.Logger

	online    atomic.Bool
	lastProbe atomic.Int64
	trigger   chan struct{}

	mu          sync.Mutex
	subscribers []chan struct{}
	netlink     *netlinkListener
}

var _ Gate = (*Monitor)(nil)

// Option customizes a Monitor.
type Option func(*Monitor)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *Monitor) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// NewMonitor builds a monitor from the [connectivity] section.
func NewMonitor(cfg config.Connectivity, logger *slog.Logger, opts ...Option) *Monitor {
	dialer := &net.Dialer{}
	m := &Monitor{
		targets:  append([]string(nil), cfg.ProbeTargets...),
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		dial:     dialer.DialContext,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		trigger:  make(chan struct{}, 1),
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	if m.timeout <= 0 {
		m.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.Netlink {
		m.netlink = newNetlinkListener(m.logger, m.Trigger)
	}
	return m
}

// Start probes once synchronously, then keeps probing until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	m.Probe(ctx)
	if m.netlink != nil {
		m.netlink.Start(ctx)
	}
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.netlink.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		case <-m.trigger:
			m.Probe(ctx)
		}
	}
}

// Trigger requests an immediate probe without blocking.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Probe dials every target until one answers and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := len(m.targets) == 0
	for _, target := range m.targets {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		conn, err := m.dial(probeCtx, "tcp", target)
		cancel()
		if err == nil {
			_ = conn.Close()
			online = true
			break
		}
		m.logger.Debug("probe failed", logging.String("target", target), logging.Error(err))
	}
	m.lastProbe.Store(time.Now().UnixNano())
	if previous := m.online.Swap(online); previous != online {
		if online {
			m.logger.Info("network available",
				logging.String(logging.FieldEventType, "connectivity_online"),
			)
		} else {
			logging.WarnWithContext(m.logger, "network unavailable", "connectivity_offline",
				logging.Any("targets", m.targets),
				logging.String(logging.FieldImpact, "network-bound jobs wait until a probe succeeds"),
				logging.String(logging.FieldErrorHint, "check network access to the analysis and storage endpoints"),
			)
		}
		m.broadcast()
	}
	return online
}

// Online reports the result of the most recent probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// LastProbe returns when the last probe finished.
func (m *Monitor) LastProbe() time.Time {
	nanos := m.lastProbe.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Satisfied implements Gate.
func (m *Monitor) Satisfied(c queue.Constraints) bool {
	return !c.RequiresNetwork || m.Online()
}

// Subscribe returns a channel signalled on every online/offline transition.
// Signals coalesce when the reader is slow.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) broadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
