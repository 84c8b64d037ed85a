package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// feedServer is a minimal change-feed endpoint: it accepts the websocket
// upgrade, waits for a phx_join, then pushes the configured frames.
func feedServer(t *testing.T, frames []frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		var join frame
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		if join.Event != "phx_join" {
			t.Errorf("first frame event = %q, want phx_join", join.Event)
			return
		}
		for _, f := range frames {
			if f.Topic == "" {
				f.Topic = join.Topic
			}
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestRealtimeDeliversInserts(t *testing.T) {
	record := json.RawMessage(`{"id":"m1","ministry_id":"r1","content":"hello","sent_at":"2026-08-30T10:00:00Z"}`)
	payload, _ := json.Marshal(insertPayload{Record: record})
	srv := feedServer(t, []frame{
		{Event: "phx_reply", Payload: json.RawMessage(`{}`)},
		{Event: "INSERT", Payload: payload},
	})
	defer srv.Close()

	b := bus.New()
	connected, unsub := b.Subscribe("realtime.", 10)
	defer unsub()

	rt := NewRealtime(srv.URL, "anon", "tok", b, zap.NewNop())
	got := make(chan json.RawMessage, 1)
	rt.Watch(TableMessages, ColMinistryID, "r1", func(rec json.RawMessage) {
		got <- rec
	})
	rt.Start(context.Background())
	defer rt.Stop()

	select {
	case evt := <-connected:
		if evt.Kind != bus.KindRealtimeConnected {
			t.Errorf("event = %q, want %q", evt.Kind, bus.KindRealtimeConnected)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connect event")
	}

	select {
	case rec := <-got:
		var row MessageRow
		if err := json.Unmarshal(rec, &row); err != nil {
			t.Fatal(err)
		}
		if row.ID != "m1" || row.Content != "hello" {
			t.Errorf("row = %+v", row)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for INSERT delivery")
	}
}

func TestRealtimeIgnoresOtherTopics(t *testing.T) {
	payload, _ := json.Marshal(insertPayload{Record: json.RawMessage(`{"id":"x"}`)})
	srv := feedServer(t, []frame{
		{Topic: "realtime:public:messages:ministry_id=eq.other", Event: "INSERT", Payload: payload},
	})
	defer srv.Close()

	rt := NewRealtime(srv.URL, "anon", "tok", bus.New(), zap.NewNop())
	got := make(chan json.RawMessage, 1)
	rt.Watch(TableMessages, ColMinistryID, "r1", func(rec json.RawMessage) {
		got <- rec
	})
	rt.Start(context.Background())
	defer rt.Stop()

	select {
	case rec := <-got:
		t.Errorf("received record for foreign topic: %s", rec)
	case <-time.After(500 * time.Millisecond):
		// Expected: filtered out.
	}
}

func TestChannelTopic(t *testing.T) {
	got := ChannelTopic("messages", "ministry_id", "abc")
	want := "realtime:public:messages:ministry_id=eq.abc"
	if got != want {
		t.Errorf("ChannelTopic = %q, want %q", got, want)
	}
}

func TestEndpointScheme(t *testing.T) {
	rt := NewRealtime("https://api.example.test/", "anon", "tok", bus.New(), zap.NewNop())
	if !strings.HasPrefix(rt.endpoint, "wss://api.example.test/realtime/v1/websocket?") {
		t.Errorf("endpoint = %q", rt.endpoint)
	}
}
