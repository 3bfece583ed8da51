package realtime

import (
	"log/slog"
	"sync"

	"konnect/cmd/internal/metrics"
	v1 "konnect/shared/contracts/live/v1"
)

// Hub is the process-wide set of live subscribers.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are safe under concurrent Broadcast.
// - Broadcast never blocks; a full or closing subscriber misses the event.
// - A subscriber only receives events broadcast after Subscribe returned.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Subscribe adds client to the broadcast set.
func (h *Hub) Subscribe(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	_, existed := h.clients[client.SessionID]
	h.clients[client.SessionID] = client
	h.mu.Unlock()

	if !existed {
		metrics.LiveClients.Inc()
	}
	h.log.Info("live.subscribe", "session_id", client.SessionID)
}

// Unsubscribe removes the client and then signals it to shut down.
func (h *Hub) Unsubscribe(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	cl, ok := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	// Removed before Close so no broadcaster holds a pointer to a closing client.
	cl.Close()
	metrics.LiveClients.Dec()
	h.log.Info("live.unsubscribe", "session_id", sessionID)
}

// Broadcast offers env to every subscriber and returns how many accepted it.
func (h *Hub) Broadcast(env v1.Envelope) int {
	if h == nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, c := range h.clients {
		if c.Offer(env) {
			delivered++
		} else {
			dropped++
		}
	}

	metrics.LiveEvents.WithLabelValues("delivered").Add(float64(delivered))
	if dropped > 0 {
		metrics.LiveEvents.WithLabelValues("dropped").Add(float64(dropped))
		h.log.Warn("live.broadcast.dropped", "type", env.Type, "dropped", dropped, "delivered", delivered)
	}
	return delivered
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
