package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gmcamargo/koinonia/internal/remote"
	"go.uber.org/zap"
)

// Backend is the slice of the remote table API the feed engine consumes.
type Backend interface {
	// FetchPage returns up to limit messages for the room, newest first,
	// strictly older than beforeMS when beforeMS > 0. When withCount is set
	// the second result is the server's total row count for the room,
	// otherwise -1.
	FetchPage(ctx context.Context, roomID string, beforeMS int64, limit int, withCount bool) ([]Message, int64, error)
	// SendMessage inserts a message row and returns the server's version.
	SendMessage(ctx context.Context, roomID, userID, text string) (Message, error)
	// FetchProfile resolves an author profile by user id.
	FetchProfile(ctx context.Context, userID string) (Profile, error)
}

// unknownAuthor is substituted when the joined profile is missing.
var unknownAuthor = Profile{Name: "Unknown User"}

// TableBackend implements Backend over the remote table client.
type TableBackend struct {
	client *remote.Client
	logger *zap.Logger
}

// NewTableBackend creates a Backend over the given table client.
func NewTableBackend(client *remote.Client, logger *zap.Logger) *TableBackend {
	return &TableBackend{client: client, logger: logger}
}

func (b *TableBackend) FetchPage(ctx context.Context, roomID string, beforeMS int64, limit int, withCount bool) ([]Message, int64, error) {
	q := b.client.From(remote.TableMessages).
		Select(remote.MessageSelect).
		Eq(remote.ColMinistryID, roomID).
		OrderDesc(remote.ColSentAt).
		Limit(limit)
	if beforeMS > 0 {
		q = q.Lt(remote.ColSentAt, remote.FormatTimestamp(beforeMS))
	}
	if withCount {
		q = q.WithCount()
	}

	var rows []remote.MessageRow
	total, err := q.Get(ctx, &rows)
	if err != nil {
		return nil, -1, err
	}

	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		m, err := b.normalize(row)
		if err != nil {
			b.logger.Warn("skipping malformed message row", zap.String("id", row.ID), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, total, nil
}

func (b *TableBackend) SendMessage(ctx context.Context, roomID, userID, text string) (Message, error) {
	var row remote.MessageRow
	err := b.client.From(remote.TableMessages).
		Select(remote.MessageSelect).
		Insert(ctx, remote.NewMessageRow{
			MinistryID: roomID,
			UserID:     userID,
			Content:    text,
			PushSent:   true,
		}, &row)
	if err != nil {
		return Message{}, err
	}
	return b.normalize(row)
}

func (b *TableBackend) FetchProfile(ctx context.Context, userID string) (Profile, error) {
	var row remote.ProfileRow
	err := b.client.From(remote.TableProfiles).
		Select("id,full_name,avatar_url").
		Eq("id", userID).
		Single(ctx, &row)
	if err != nil {
		return Profile{}, err
	}
	return Profile{ID: row.ID, Name: row.FullName, AvatarURL: row.AvatarURL}, nil
}

// DecodeRealtime normalizes a raw change-feed INSERT record. Change-feed
// rows carry no joined author; the engine resolves the profile afterwards.
func (b *TableBackend) DecodeRealtime(record json.RawMessage) (Message, error) {
	var row remote.MessageRow
	if err := json.Unmarshal(record, &row); err != nil {
		return Message{}, fmt.Errorf("decode realtime record: %w", err)
	}
	return b.normalize(row)
}

func (b *TableBackend) normalize(row remote.MessageRow) (Message, error) {
	sentAt, err := remote.ParseTimestamp(row.SentAt)
	if err != nil {
		return Message{}, err
	}

	author := unknownAuthor
	if row.Author != nil {
		author = Profile{ID: row.Author.ID, Name: row.Author.FullName, AvatarURL: row.Author.AvatarURL}
	}
	author.ID = row.UserID

	return Message{
		ID:       row.ID,
		RoomID:   row.MinistryID,
		AuthorID: row.UserID,
		Body:     row.Content,
		SentAt:   sentAt,
		Author:   author,
		Status:   StatusSent,
	}, nil
}
