package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/palmscroll/internal/session"
)

// UpdateSource publishes coordinator updates.
type UpdateSource interface {
	Subscribe() (<-chan session.Update, func())
}

// EventsHandler streams coordinator updates to websocket clients.
type EventsHandler struct {
	source UpdateSource
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(src UpdateSource, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{source: src, logger: logger.With("component", "events")}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.source.Subscribe()
	defer cancel()

	// Clients only listen; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(u); err != nil {
				h.logger.Debug("events client gone", "error", err)
				return
			}
		}
	}
}
