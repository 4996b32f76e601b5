package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"nutrilog/internal/logging"
)

// netlinkListener watches kernel uevents for network interfaces and asks the
// monitor to re-probe when one appears, disappears or changes state.
type netlinkListener struct {
	logger  *slog.Logger
	onEvent func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkListener(logger *slog.Logger, onEvent func()) *netlinkListener {
	return &netlinkListener{logger: logger, onEvent: onEvent}
}

// Start opens the netlink socket. Failure is logged and otherwise ignored;
// the periodic probe still runs.
func (l *netlinkListener) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		l.logger.Warn("failed to connect to netlink socket; relying on periodic probes",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "network changes noticed on the next probe interval"),
		)
		return
	}
	l.conn = conn
	l.quit = make(chan struct{})
	l.running = true

	quit := l.quit
	go l.loop(ctx, conn, quit)

	l.logger.Info("netlink listener started",
		logging.String(logging.FieldEventType, "netlink_listener_started"),
	)
}

// Stop closes the socket. Safe on a nil or stopped listener.
func (l *netlinkListener) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	close(l.quit)
	l.quit = nil
	_ = l.conn.Close()
	l.conn = nil
	l.running = false
}

// Running reports whether the socket is open.
func (l *netlinkListener) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *netlinkListener) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			l.handleEvent(uevent)
		case err := <-errs:
			l.logger.Warn("netlink listener error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_listener_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "network changes noticed on the next probe interval"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=net with ACTION add, remove, change or move.
func buildMatcher() netlink.Matcher {
	action := "add|remove|change|move"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

func (l *netlinkListener) handleEvent(uevent netlink.UEvent) {
	l.logger.Debug("network interface event",
		logging.String(logging.FieldEventType, "netlink_net_event"),
		logging.String("action", string(uevent.Action)),
		logging.String("interface", uevent.Env["INTERFACE"]),
	)
	if l.onEvent != nil {
		l.onEvent()
	}
}
