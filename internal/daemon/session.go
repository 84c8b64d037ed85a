package daemon

import (
	"context"
	"encoding/json"

	"github.com/gmcamargo/koinonia/internal/feed"
	"github.com/gmcamargo/koinonia/internal/remote"
	"github.com/gmcamargo/koinonia/internal/room"
	"go.uber.org/zap"
)

// realtimeSource is the slice of the change feed the session uses.
type realtimeSource interface {
	Watch(table, column, value string, h func(record json.RawMessage))
}

// realtimeDecoder turns raw change-feed records into feed messages.
type realtimeDecoder interface {
	DecodeRealtime(record json.RawMessage) (feed.Message, error)
}

// Session coordinates the feed and room engines for the one open room and
// routes the change feed into the feed engine. It implements the control
// API's Controller.
type Session struct {
	feed     *feed.Engine
	room     *room.Engine
	realtime realtimeSource
	decoder  realtimeDecoder
	logger   *zap.Logger
}

// NewSession wires the engines together.
func NewSession(f *feed.Engine, r *room.Engine, rt realtimeSource, dec realtimeDecoder, logger *zap.Logger) *Session {
	return &Session{feed: f, room: r, realtime: rt, decoder: dec, logger: logger.Named("session")}
}

// OpenRoom switches both engines to the room and repoints the change feed.
// The room engine checks its cache before hitting the network; the feed
// engine drives its own cache-then-network sequence internally.
func (s *Session) OpenRoom(ctx context.Context, roomID string) error {
	s.room.Open(roomID)
	s.room.CheckCachedMembership()

	if err := s.feed.Open(ctx, roomID); err != nil {
		return err
	}

	s.realtime.Watch(remote.TableMessages, remote.ColMinistryID, roomID, s.handleRecord)

	go s.room.FetchDetails(context.WithoutCancel(ctx))
	return nil
}

func (s *Session) handleRecord(record json.RawMessage) {
	m, err := s.decoder.DecodeRealtime(record)
	if err != nil {
		s.logger.Warn("undecodable change feed record", zap.Error(err))
		return
	}
	s.feed.HandleRealtimeInsert(context.Background(), m)
}

func (s *Session) RoomSnapshot() room.Snapshot {
	return s.room.Snapshot()
}

func (s *Session) FeedSnapshot() feed.Snapshot {
	return s.feed.Snapshot()
}

func (s *Session) Send(ctx context.Context, body string) error {
	return s.feed.Send(ctx, body)
}

func (s *Session) LoadOlder(ctx context.Context) error {
	if s.feed.Snapshot().RoomID == "" {
		return feed.ErrNoRoom
	}
	s.feed.LoadOlder(ctx)
	return nil
}

func (s *Session) RefreshMembership(ctx context.Context) error {
	return s.room.RefreshMembership(ctx)
}

func (s *Session) Leave(ctx context.Context) error {
	return s.room.Leave(ctx)
}
