package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nutrilog/internal/logging"
)

const (
	writeWait       = 5 * time.Second
	snapshotLimit   = 50
	broadcastBuffer = 64
)

// message is the frame written to websocket clients.
type message struct {
	Type   string  `json:"type"`
	Events []Event `json:"events,omitempty"`
	Event  *Event  `json:"event,omitempty"`
}

// Hub streams job events to websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	upgrader   websocket.Upgrader
	bus        *Bus
	logger     *slog.Logger
	done       chan struct{}
}

// NewHub creates a hub. bus supplies the snapshot sent to new clients.
func NewHub(bus *Bus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		bus:    bus,
		logger: logging.NewComponentLogger(logger, "event-hub"),
		done:   make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				_ = client.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", logging.Int("clients", total))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", logging.Int("clients", total))
		case payload := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.logger.Debug("websocket write failed; dropping client", logging.Error(err))
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Observe broadcasts ev to every connected client. Events are dropped when
// the broadcast buffer is full or the hub has stopped.
func (h *Hub) Observe(_ context.Context, ev Event) {
	payload, err := json.Marshal(message{Type: "job_event", Event: &ev})
	if err != nil {
		h.logger.Debug("marshal job event failed", logging.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
	}
}

// ServeHTTP upgrades the request, sends recent events, then streams new ones.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}

	initial, err := json.Marshal(message{Type: "initial_events", Events: h.bus.Tail(snapshotLimit)})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			conn.Close()
			return
		}
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Clients only listen; reading detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}
