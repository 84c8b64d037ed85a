package room

import (
	"context"

	"github.com/gmcamargo/koinonia/internal/remote"
)

// Backend is the slice of the remote table API the room engine consumes.
type Backend interface {
	// FetchRoom returns the room metadata by id (without member count).
	FetchRoom(ctx context.Context, roomID string) (Room, error)
	// FetchMembership reports whether a membership row exists for the
	// (room, user) pair. Row existence is the source of truth, not a
	// boolean column.
	FetchMembership(ctx context.Context, roomID, userID string) (bool, error)
	// FetchMemberCount computes the member count from the full roster.
	FetchMemberCount(ctx context.Context, roomID string) (int, error)
	// LeaveRoom deletes the (room, user) membership row.
	LeaveRoom(ctx context.Context, roomID, userID string) error
}

// TableBackend implements Backend over the remote table client.
type TableBackend struct {
	client *remote.Client
}

// NewTableBackend creates a Backend over the given table client.
func NewTableBackend(client *remote.Client) *TableBackend {
	return &TableBackend{client: client}
}

func (b *TableBackend) FetchRoom(ctx context.Context, roomID string) (Room, error) {
	var row remote.MinistryRow
	err := b.client.From(remote.TableMinistries).
		Select("id,name,description,avatar_url").
		Eq("id", roomID).
		Single(ctx, &row)
	if err != nil {
		return Room{}, err
	}
	return Room{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		AvatarURL:   row.AvatarURL,
	}, nil
}

func (b *TableBackend) FetchMembership(ctx context.Context, roomID, userID string) (bool, error) {
	var rows []remote.MemberRow
	_, err := b.client.From(remote.TableMembers).
		Select("id").
		Eq(remote.ColMinistryID, roomID).
		Eq("user_id", userID).
		Eq("role", "member").
		Limit(1).
		Get(ctx, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (b *TableBackend) FetchMemberCount(ctx context.Context, roomID string) (int, error) {
	var rows []remote.MemberRow
	_, err := b.client.From(remote.TableMembers).
		Select("id").
		Eq(remote.ColMinistryID, roomID).
		Get(ctx, &rows)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (b *TableBackend) LeaveRoom(ctx context.Context, roomID, userID string) error {
	return b.client.From(remote.TableMembers).
		Eq(remote.ColMinistryID, roomID).
		Eq("user_id", userID).
		Delete(ctx)
}
