package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/gmcamargo/koinonia/internal/config"
	"github.com/gmcamargo/koinonia/internal/feed"
	"github.com/gmcamargo/koinonia/internal/room"
	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type stubFeedBackend struct{}

func (stubFeedBackend) FetchPage(_ context.Context, roomID string, _ int64, _ int, _ bool) ([]feed.Message, int64, error) {
	return nil, 0, nil
}

func (stubFeedBackend) SendMessage(_ context.Context, roomID, userID, text string) (feed.Message, error) {
	return feed.Message{ID: "srv-1", RoomID: roomID, AuthorID: userID, Body: text, SentAt: time.Now().UnixMilli(), Status: feed.StatusSent}, nil
}

func (stubFeedBackend) FetchProfile(context.Context, string) (feed.Profile, error) {
	return feed.Profile{}, errors.New("not found")
}

type stubRoomBackend struct{ member bool }

func (b stubRoomBackend) FetchRoom(_ context.Context, roomID string) (room.Room, error) {
	return room.Room{ID: roomID, Name: "Stub Room"}, nil
}

func (b stubRoomBackend) FetchMembership(context.Context, string, string) (bool, error) {
	return b.member, nil
}

func (b stubRoomBackend) FetchMemberCount(context.Context, string) (int, error) {
	return 1, nil
}

func (b stubRoomBackend) LeaveRoom(context.Context, string, string) error { return nil }

type stubRealtime struct {
	mu      sync.Mutex
	value   string
	handler func(record json.RawMessage)
}

func (r *stubRealtime) Watch(_, _, value string, h func(record json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
	r.handler = h
}

func (r *stubRealtime) push(record json.RawMessage) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(record)
	}
}

type stubDecoder struct{}

func (stubDecoder) DecodeRealtime(record json.RawMessage) (feed.Message, error) {
	var m feed.Message
	if err := json.Unmarshal(record, &m); err != nil {
		return feed.Message{}, err
	}
	if m.ID == "" {
		return feed.Message{}, errors.New("missing id")
	}
	return m, nil
}

type noopNotifier struct{}

func (noopNotifier) MessageSent(context.Context, string, string) {}

func newTestSession(t *testing.T) (*Session, *stubRealtime) {
	t.Helper()
	b := bus.New()
	cfg := config.Default().Feed
	cfg.PersistDebounceMS = 0
	fe := feed.NewEngine(stubFeedBackend{}, newMemStore(), b, noopNotifier{}, "user-1", cfg, zap.NewNop())
	re := room.NewEngine(stubRoomBackend{member: true}, newMemStore(), b, zap.NewNop(), "user-1")
	rt := &stubRealtime{}
	return NewSession(fe, re, rt, stubDecoder{}, zap.NewNop()), rt
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOpenRoomCoordinatesEngines(t *testing.T) {
	sess, rt := newTestSession(t)

	if err := sess.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	rt.mu.Lock()
	watched := rt.value
	rt.mu.Unlock()
	if watched != "room-1" {
		t.Fatalf("change feed watching %q, want room-1", watched)
	}

	waitUntil(t, func() bool {
		return sess.RoomSnapshot().State == room.Resolved
	}, "room never resolved")
	if snap := sess.RoomSnapshot(); !snap.IsMember || snap.Room.Name != "Stub Room" {
		t.Fatalf("room snapshot = %+v", snap)
	}
}

func TestRealtimeRecordsReachTheFeed(t *testing.T) {
	sess, rt := newTestSession(t)
	if err := sess.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitUntil(t, func() bool {
		snap := sess.FeedSnapshot()
		return !snap.Loading
	}, "initial load never settled")

	record, _ := json.Marshal(feed.Message{
		ID: "rt-1", RoomID: "room-1", AuthorID: "author-2",
		Body: "incoming", SentAt: 1000, Status: feed.StatusSent,
	})
	rt.push(record)

	waitUntil(t, func() bool {
		return len(sess.FeedSnapshot().Messages) == 1
	}, "realtime record never merged")

	// Undecodable records are dropped without killing the stream.
	rt.push(json.RawMessage(`{"broken`))
	rt.push(json.RawMessage(`{}`))
	record2, _ := json.Marshal(feed.Message{
		ID: "rt-2", RoomID: "room-1", AuthorID: "author-2",
		Body: "still here", SentAt: 2000, Status: feed.StatusSent,
	})
	rt.push(record2)
	waitUntil(t, func() bool {
		return len(sess.FeedSnapshot().Messages) == 2
	}, "stream died on bad record")
}

func TestLoadOlderRequiresOpenRoom(t *testing.T) {
	sess, _ := newTestSession(t)
	if err := sess.LoadOlder(context.Background()); !errors.Is(err, feed.ErrNoRoom) {
		t.Fatalf("err = %v, want ErrNoRoom", err)
	}
}

func TestSendRoundTrip(t *testing.T) {
	sess, _ := newTestSession(t)
	if err := sess.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitUntil(t, func() bool { return !sess.FeedSnapshot().Loading }, "initial load never settled")

	if err := sess.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitUntil(t, func() bool {
		snap := sess.FeedSnapshot()
		for _, m := range snap.Messages {
			if m.ID == "srv-1" && m.Status == feed.StatusSent {
				return true
			}
		}
		return false
	}, "send never reconciled")
}
