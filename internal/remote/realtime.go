package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 30 * time.Second
	backoffInitial    = time.Second
	backoffMax        = 30 * time.Second
)

// frame is the phoenix-style wire envelope used by the change feed.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type insertPayload struct {
	Record json.RawMessage `json:"record"`
}

// ChannelTopic names the change-feed channel for one table filtered by one
// column value, e.g. realtime:public:messages:ministry_id=eq.42.
func ChannelTopic(table, column, value string) string {
	return "realtime:public:" + table + ":" + column + "=eq." + value
}

// Realtime maintains a websocket connection to the backend change feed and
// delivers INSERT records for the currently watched channel. It reconnects
// with capped exponential backoff and rejoins the channel on reconnect.
type Realtime struct {
	endpoint string
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	topic   string
	handler func(json.RawMessage)
	ref     int

	cancel context.CancelFunc
}

// NewRealtime creates a change-feed client for the backend at baseURL.
func NewRealtime(baseURL, apiKey, token string, b *bus.Bus, logger *zap.Logger) *Realtime {
	ws := strings.Replace(strings.TrimRight(baseURL, "/"), "http", "ws", 1)
	return &Realtime{
		endpoint: fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&token=%s&vsn=1.0.0", ws, apiKey, token),
		bus:      b,
		logger:   logger,
	}
}

// Start begins the connect/read/reconnect loop.
func (r *Realtime) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Stop tears down the connection and stops reconnecting.
func (r *Realtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()
}

// Watch replaces the watched channel with (table, column=value) and routes
// decoded INSERT records to h. Safe to call before Start and across
// reconnects; the previous channel is left.
func (r *Realtime) Watch(table, column, value string, h func(record json.RawMessage)) {
	topic := ChannelTopic(table, column, value)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil && r.topic != "" && r.topic != topic {
		_ = r.send(frame{Topic: r.topic, Event: "phx_leave", Payload: json.RawMessage(`{}`)})
	}
	r.topic = topic
	r.handler = h
	if r.conn != nil {
		_ = r.send(frame{Topic: topic, Event: "phx_join", Payload: json.RawMessage(`{}`)})
	}
}

func (r *Realtime) run(ctx context.Context) {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.endpoint, nil)
		if err != nil {
			r.logger.Warn("change feed dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffInitial

		r.mu.Lock()
		r.conn = conn
		if r.topic != "" {
			_ = r.send(frame{Topic: r.topic, Event: "phx_join", Payload: json.RawMessage(`{}`)})
		}
		r.mu.Unlock()

		r.bus.Publish(bus.Event{Kind: bus.KindRealtimeConnected, Timestamp: time.Now()})
		r.logger.Info("change feed connected")

		sessionCtx, stopSession := context.WithCancel(ctx)
		go r.heartbeat(sessionCtx, conn)
		r.readLoop(conn)
		stopSession()

		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()

		r.bus.Publish(bus.Event{Kind: bus.KindRealtimeDisconnected, Timestamp: time.Now()})
		if ctx.Err() == nil {
			r.logger.Warn("change feed disconnected, reconnecting")
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			_ = conn.Close()
			return
		}
		if f.Event != "INSERT" {
			continue
		}

		r.mu.Lock()
		topic, handler := r.topic, r.handler
		r.mu.Unlock()
		if handler == nil || f.Topic != topic {
			continue
		}

		var p insertPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			r.logger.Warn("malformed INSERT payload", zap.Error(err))
			continue
		}
		handler(p.Record)
	}
}

func (r *Realtime) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			if r.conn == conn {
				_ = r.send(frame{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`)})
			}
			r.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// send writes a frame on the current connection. Caller holds r.mu.
func (r *Realtime) send(f frame) error {
	r.ref++
	f.Ref = strconv.Itoa(r.ref)
	return r.conn.WriteJSON(f)
}
