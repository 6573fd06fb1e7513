// Package relay delivers worker results to the live client connection they
// originated from. Delivery is best-effort: a disconnected client simply
// misses the push and re-fetches ledger state on reconnect.
package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/metrics"
)

// Event names encode the result kind on the wire.
const (
	EventRunResult      = "run_result"
	EventTestCaseResult = "test_case_result"
	EventBlockedResult  = "blocked_result"
)

// Conn is the write side of one live client connection.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Envelope is the frame pushed over the real-time channel.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Hub tracks live connections by the caller-chosen stable client identifier,
// independent of transport-level reconnects.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *zap.Logger
}

// NewHub creates an empty connection hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

// Register binds a connection to a client ID. A reconnect with the same ID
// replaces (and closes) the previous connection.
func (h *Hub) Register(clientID string, conn Conn) {
	h.mu.Lock()
	prev := h.conns[clientID]
	h.conns[clientID] = conn
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	h.logger.Debug("Client registered", zap.String("client_id", clientID))
}

// Unregister removes a connection, but only if it is still the one bound to
// the ID; a stale unregister after a reconnect must not evict the new conn.
func (h *Hub) Unregister(clientID string, conn Conn) {
	h.mu.Lock()
	if h.conns[clientID] == conn {
		delete(h.conns, clientID)
	}
	h.mu.Unlock()
	h.logger.Debug("Client unregistered", zap.String("client_id", clientID))
}

// Push delivers a payload to the client's live connection. Returns false if
// the client is absent or the write fails; no retry is attempted.
func (h *Hub) Push(clientID, event string, payload interface{}) bool {
	h.mu.RLock()
	conn, ok := h.conns[clientID]
	h.mu.RUnlock()

	if !ok {
		metrics.RelayPushes.WithLabelValues(event, "false").Inc()
		h.logger.Debug("Relay drop: client not connected",
			zap.String("client_id", clientID),
			zap.String("event", event),
		)
		return false
	}

	if err := conn.WriteJSON(Envelope{Event: event, Payload: payload}); err != nil {
		metrics.RelayPushes.WithLabelValues(event, "false").Inc()
		h.logger.Debug("Relay drop: write failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return false
	}

	metrics.RelayPushes.WithLabelValues(event, "true").Inc()
	return true
}

// Connected reports whether a client currently has a live connection.
func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[clientID]
	return ok
}
