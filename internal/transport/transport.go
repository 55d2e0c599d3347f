// Package transport serves the dashboard API and pushes redraw events to
// browsers over SSE or WebSocket.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
)

// EventEnvelope wraps all wire events with metadata for ordering and resume
type EventEnvelope struct {
	V       int             `json:"v"`       // Version for future compatibility
	Type    string          `json:"type"`    // prices, chart, selection
	ID      string          `json:"id"`      // Unique ID, used as SSE Last-Event-ID
	TS      time.Time       `json:"ts_utc"`  // Server timestamp when event was emitted
	Payload json.RawMessage `json:"payload"` // Raw event data
}

// Hub fans published events out to every subscriber and keeps a short
// backlog so reconnecting SSE clients can resume.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]chan EventEnvelope
	recent    []EventEnvelope
	maxRecent int
	buffer    int
	logger    *zap.Logger
}

// NewHub creates a hub with per-client buffers of 64 events and a 128 event backlog
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:   make(map[string]chan EventEnvelope),
		maxRecent: 128,
		buffer:    64,
		logger:    logger,
	}
}

// Publish implements scheduler.Publisher. Slow clients drop events rather than
// block the publisher.
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}
	ev := EventEnvelope{
		V:       1,
		Type:    eventType,
		ID:      uuid.NewString(),
		TS:      time.Now().UTC(),
		Payload: data,
	}

	// Backlog and fan-out share one critical section so a resuming subscriber
	// sees each event exactly once
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, ev)
	if over := len(h.recent) - h.maxRecent; over > 0 {
		h.recent = append([]EventEnvelope(nil), h.recent[over:]...)
	}
	for clientID, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			observ.IncCounter("stream_events_dropped_total", map[string]string{"type": eventType})
			h.logger.Debug("client channel full, dropping event",
				zap.String("client", clientID),
				zap.String("type", eventType))
		}
	}
	observ.IncCounter("stream_events_total", map[string]string{"type": eventType})
}

// Subscribe registers a client. When lastEventID is in the backlog, the events
// after it are returned for replay.
func (h *Hub) Subscribe(lastEventID string) (string, <-chan EventEnvelope, []EventEnvelope) {
	id := uuid.NewString()
	ch := make(chan EventEnvelope, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[id] = ch
	observ.SetGauge("stream_clients", float64(len(h.clients)), nil)

	var backlog []EventEnvelope
	if lastEventID != "" {
		for i, ev := range h.recent {
			if ev.ID == lastEventID {
				backlog = append(backlog, h.recent[i+1:]...)
				break
			}
		}
	}
	return id, ch, backlog
}

// Unsubscribe removes a client and closes its channel
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
	observ.SetGauge("stream_clients", float64(len(h.clients)), nil)
}

// Clients returns the number of connected stream clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
