package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SSEHandler streams hub events as Server-Sent Events
type SSEHandler struct {
	hub       *Hub
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewSSEHandler creates an SSE endpoint. A zero heartbeat means 10s.
func NewSSEHandler(hub *Hub, heartbeat time.Duration, logger *zap.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEHandler{hub: hub, heartbeat: heartbeat, logger: logger}
}

// ServeHTTP handles SSE streaming requests
func (s *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control, Last-Event-ID")

	clientID, events, backlog := s.hub.Subscribe(r.Header.Get("Last-Event-ID"))
	defer s.hub.Unsubscribe(clientID)

	s.logger.Info("sse client connected",
		zap.String("client", clientID),
		zap.Int("replayed", len(backlog)))
	defer s.logger.Info("sse client disconnected", zap.String("client", clientID))

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range backlog {
		if err := writeEvent(w, flusher, ev); err != nil {
			return
		}
	}

	// Keep connection alive with heartbeats
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, ev); err != nil {
				s.logger.Debug("sse write failed", zap.String("client", clientID), zap.Error(err))
				return
			}
		}
	}
}

// writeEvent writes one envelope in SSE framing and flushes it
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev EventEnvelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", ev.Type, ev.ID, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
