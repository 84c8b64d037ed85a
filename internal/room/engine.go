package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/gmcamargo/koinonia/internal/cache"
	"go.uber.org/zap"
)

// ErrNoRoom is returned when an operation runs before any room is open.
var ErrNoRoom = errors.New("no room open")

// Store is the slice of the local cache the engine uses.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Engine resolves a room's metadata and the user's membership with a
// trust-then-verify strategy: paint from cache first, then let the network
// overwrite. Network failures set a side-channel error flag and never roll
// back already-applied optimistic state.
type Engine struct {
	backend Backend
	store   Store
	bus     *bus.Bus
	logger  *zap.Logger
	userID  string
	machine *machine
	now     func() time.Time

	mu         sync.Mutex
	roomID     string
	epoch      uint64
	room       Room
	membership Membership
	loading    bool
	lastErr    string
}

// NewEngine creates a room engine for the given user.
func NewEngine(backend Backend, store Store, b *bus.Bus, logger *zap.Logger, userID string) *Engine {
	return &Engine{
		backend: backend,
		store:   store,
		bus:     b,
		logger:  logger.Named("room"),
		userID:  userID,
		machine: newMachine(b),
		now:     time.Now,
	}
}

// Open switches the engine to a room, discarding all state of the previous
// one. It only resets; cache and network resolution are driven separately
// so the caller controls their ordering relative to the feed.
func (e *Engine) Open(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.roomID = roomID
	e.epoch++
	e.room = Room{ID: roomID}
	e.membership = Membership{}
	e.loading = false
	e.lastErr = ""
	if e.machine.state() != Uninitialized {
		if err := e.machine.transition(Uninitialized); err != nil {
			e.logger.Warn("state reset rejected", zap.Error(err))
		}
	}
}

// CheckCachedMembership performs the optimistic cache read. It always
// advances the lifecycle to CacheChecked, hit or miss, so the network step
// is never blocked on cache availability. Malformed entries are dropped.
func (e *Engine) CheckCachedMembership() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.roomID == "" {
		return
	}

	memberKey := cache.MembershipKey(e.roomID, e.userID)
	if raw, ok, err := e.store.Get(memberKey); err != nil {
		e.logger.Warn("membership cache read failed", zap.Error(err))
	} else if ok {
		var m Membership
		if err := json.Unmarshal(raw, &m); err != nil {
			e.logger.Warn("dropping malformed membership cache entry", zap.Error(err))
			_ = e.store.Remove(memberKey)
		} else {
			e.membership = m
		}
	}

	roomKey := cache.RoomKey(e.roomID)
	if raw, ok, err := e.store.Get(roomKey); err != nil {
		e.logger.Warn("room cache read failed", zap.Error(err))
	} else if ok {
		var r Room
		if err := json.Unmarshal(raw, &r); err != nil {
			e.logger.Warn("dropping malformed room cache entry", zap.Error(err))
			_ = e.store.Remove(roomKey)
		} else if r.ID == e.roomID {
			e.room = r
		}
	}

	if err := e.machine.transition(CacheChecked); err != nil {
		e.logger.Warn("cache check out of order", zap.Error(err))
		return
	}
	e.publishChangedLocked()
}

// FetchDetails resolves the authoritative room metadata, membership, and
// member count from the network, overwriting the optimistic cache paint.
// The lifecycle ends in Resolved whether or not every step succeeded;
// failures surface through the snapshot's error field.
func (e *Engine) FetchDetails(ctx context.Context) {
	e.mu.Lock()
	if e.roomID == "" {
		e.mu.Unlock()
		return
	}
	if e.machine.state() == Uninitialized {
		e.mu.Unlock()
		e.CheckCachedMembership()
		e.mu.Lock()
	}
	if e.loading {
		e.mu.Unlock()
		return
	}
	e.loading = true
	e.lastErr = ""
	roomID := e.roomID
	epoch := e.epoch
	e.mu.Unlock()
	e.publishChanged()

	room, roomErr := e.backend.FetchRoom(ctx, roomID)
	isMember, memberErr := e.backend.FetchMembership(ctx, roomID, e.userID)
	count, countErr := e.backend.FetchMemberCount(ctx, roomID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch || e.roomID != roomID {
		return
	}
	e.loading = false

	if roomErr == nil {
		room.MemberCount = e.room.MemberCount
		e.room = room
	} else {
		e.lastErr = roomErr.Error()
		e.logger.Warn("room fetch failed", zap.String("room", roomID), zap.Error(roomErr))
	}
	if memberErr == nil {
		e.membership = Membership{IsMember: isMember, CheckedAt: e.now().UnixMilli()}
		e.writeMembershipCacheLocked()
	} else {
		e.lastErr = memberErr.Error()
		e.logger.Warn("membership fetch failed", zap.String("room", roomID), zap.Error(memberErr))
	}
	if countErr == nil {
		e.room.MemberCount = count
	} else {
		e.lastErr = countErr.Error()
		e.logger.Warn("member count fetch failed", zap.String("room", roomID), zap.Error(countErr))
	}
	if roomErr == nil || countErr == nil {
		e.writeRoomCacheLocked()
	}

	if err := e.machine.transition(Resolved); err != nil {
		e.logger.Warn("resolve out of order", zap.Error(err))
	}
	e.publishChangedLocked()
}

// RefreshMembership re-verifies the membership flag against the network.
// State and cache are touched only when the verdict actually changed.
func (e *Engine) RefreshMembership(ctx context.Context) error {
	e.mu.Lock()
	roomID := e.roomID
	epoch := e.epoch
	e.mu.Unlock()
	if roomID == "" {
		return nil
	}

	isMember, err := e.backend.FetchMembership(ctx, roomID, e.userID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch || e.roomID != roomID {
		return nil
	}
	if e.membership.IsMember == isMember && e.membership.CheckedAt != 0 {
		return nil
	}
	e.membership = Membership{IsMember: isMember, CheckedAt: e.now().UnixMilli()}
	e.writeMembershipCacheLocked()
	if e.machine.state() == Resolved {
		if err := e.machine.transition(Resolved); err != nil {
			e.logger.Warn("refresh transition rejected", zap.Error(err))
		}
	}
	e.publishChangedLocked()
	return nil
}

// Leave removes the user's membership row. The destructive call goes out
// first; local state and cache are only touched after the backend confirms,
// so a failed leave keeps the user a member everywhere.
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	roomID := e.roomID
	epoch := e.epoch
	e.mu.Unlock()
	if roomID == "" {
		return ErrNoRoom
	}

	if err := e.backend.LeaveRoom(ctx, roomID, e.userID); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch || e.roomID != roomID {
		return nil
	}
	e.membership = Membership{IsMember: false, CheckedAt: e.now().UnixMilli()}
	if e.room.MemberCount > 0 {
		e.room.MemberCount--
	}
	e.writeMembershipCacheLocked()
	e.writeRoomCacheLocked()
	e.publishChangedLocked()
	return nil
}

// Snapshot returns the current view for the presentation layer.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		RoomID:   e.roomID,
		Room:     e.room,
		IsMember: e.membership.IsMember,
		State:    e.machine.state(),
		Loading:  e.loading,
		Error:    e.lastErr,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.machine.state()
}

func (e *Engine) writeMembershipCacheLocked() {
	raw, err := json.Marshal(e.membership)
	if err != nil {
		return
	}
	if err := e.store.Set(cache.MembershipKey(e.roomID, e.userID), raw); err != nil {
		e.logger.Warn("membership cache write failed", zap.Error(err))
	}
}

func (e *Engine) writeRoomCacheLocked() {
	raw, err := json.Marshal(e.room)
	if err != nil {
		return
	}
	if err := e.store.Set(cache.RoomKey(e.roomID), raw); err != nil {
		e.logger.Warn("room cache write failed", zap.Error(err))
	}
}

func (e *Engine) publishChangedLocked() {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: bus.KindRoomChanged, Timestamp: e.now(), Payload: e.roomID})
}

func (e *Engine) publishChanged() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishChangedLocked()
}
