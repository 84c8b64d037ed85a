package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestMessageSent(t *testing.T) {
	var got notifyRequest
	var auth, apikey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/notify-ministry-message" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		apikey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "anon-key", "user-token", zap.NewNop())
	n.MessageSent(context.Background(), "room-1", "msg-1")

	if got.MinistryID != "room-1" || got.MessageID != "msg-1" {
		t.Fatalf("request = %+v", got)
	}
	if auth != "Bearer user-token" || apikey != "anon-key" {
		t.Fatalf("auth headers = %q / %q", auth, apikey)
	}
}

func TestMessageSentSwallowsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, "anon-key", "user-token", zap.NewNop())
	// Must not panic or block; the error is log-only.
	n.MessageSent(context.Background(), "room-1", "msg-1")

	n2 := New("http://127.0.0.1:1", "anon-key", "user-token", zap.NewNop())
	n2.MessageSent(context.Background(), "room-1", "msg-1")
}
