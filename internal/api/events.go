package api

import (
	"net/http"

	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventEnvelope is the wire form of a bus event on the watch stream.
type EventEnvelope struct {
	EventID          string `json:"event_id"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Kind             string `json:"kind"`
	Payload          any    `json:"payload,omitempty"`
}

// EventStream upgrades control clients to a websocket tail of the bus.
type EventStream struct {
	bus      *bus.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEventStream creates the event tail handler.
func NewEventStream(b *bus.Bus, logger *zap.Logger) *EventStream {
	return &EventStream{bus: b, logger: logger.Named("events")}
}

// Handle streams bus events matching the optional ?ns= prefix until the
// client disconnects. A slow client loses events rather than stalling the
// bus.
func (s *EventStream) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("event stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ns := r.URL.Query().Get("ns")
	ch, unsub := s.bus.Subscribe(ns, 64)
	defer unsub()

	// Reader goroutine notices the close; its exit ends the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-ch:
			env := EventEnvelope{
				EventID:          uuid.New().String(),
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				Payload:          evt.Payload,
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
