package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/gmcamargo/koinonia/internal/cache"
	"github.com/gmcamargo/koinonia/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message body is empty")

// ErrNoRoom is returned when an operation runs before any room is open.
var ErrNoRoom = errors.New("no room open")

// Store is the slice of the local cache the engine uses.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Notifier triggers the downstream notification for a sent message.
// Implementations are best-effort; the engine never inspects the outcome.
type Notifier interface {
	MessageSent(ctx context.Context, roomID, messageID string)
}

type fetchMode int

const (
	fetchInitial fetchMode = iota
	fetchRefresh
	fetchOlder
)

// Engine owns the in-memory ordered message collection for the currently
// open room: cache-first load, cursor-based backward pagination,
// reconciliation of the live change feed, and optimistic send.
//
// Fetch completions and change-feed inserts are two event sources feeding
// one serialized apply path: every state mutation happens under mu, and
// every mutation that follows a suspension re-checks the epoch captured at
// operation start so results for a stale room are discarded, never applied.
type Engine struct {
	backend  Backend
	store    Store
	bus      *bus.Bus
	notifier Notifier
	logger   *zap.Logger
	userID   string
	cfg      config.Feed
	now      func() time.Time

	mu          sync.Mutex
	roomID      string
	epoch       uint64
	messages    []Message
	profiles    map[string]Profile
	cursor      int64 // oldest held sent_at; 0 = unset
	total       int64 // captured server count; -1 = unknown
	allLoaded   bool
	loading     bool
	loadingMore bool
	opening     bool
	refreshing  bool
	pendingText string
	selfSent    map[string]time.Time

	persistTimer *time.Timer
}

// NewEngine creates a feed engine for the given session user. notifier may
// be nil to disable the send side-effect.
func NewEngine(backend Backend, store Store, b *bus.Bus, notifier Notifier, userID string, cfg config.Feed, logger *zap.Logger) *Engine {
	return &Engine{
		backend:  backend,
		store:    store,
		bus:      b,
		notifier: notifier,
		logger:   logger,
		userID:   userID,
		cfg:      cfg,
		now:      time.Now,
		profiles: make(map[string]Profile),
		selfSent: make(map[string]time.Time),
		total:    -1,
	}
}

// Open resets the engine for roomID, loads the cached collection for an
// instant first paint, and kicks off a background network reconcile.
// Re-entrant calls for the room already being opened are ignored; opening a
// different room invalidates every in-flight result for the old one.
func (e *Engine) Open(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrNoRoom
	}

	e.mu.Lock()
	if e.opening && e.roomID == roomID {
		e.mu.Unlock()
		return nil
	}
	e.resetLocked(roomID)
	e.opening = true
	e.mu.Unlock()

	cacheHit := e.loadFromCache(roomID)

	e.mu.Lock()
	e.opening = false
	stale := e.roomID != roomID
	e.mu.Unlock()
	if stale {
		return nil
	}

	// Network reconcile runs in the background either way; a cache hit just
	// spares the user the loading state.
	mode := fetchInitial
	if cacheHit {
		mode = fetchRefresh
	}
	go e.fetchPage(ctx, mode)
	return nil
}

// resetLocked clears all per-room state. Caller holds mu.
func (e *Engine) resetLocked(roomID string) {
	e.roomID = roomID
	e.epoch++
	e.messages = nil
	e.profiles = make(map[string]Profile)
	e.cursor = 0
	e.total = -1
	e.allLoaded = false
	e.loading = false
	e.loadingMore = false
	e.refreshing = false
	e.pendingText = ""
	e.selfSent = make(map[string]time.Time)
	if e.persistTimer != nil {
		e.persistTimer.Stop()
		e.persistTimer = nil
	}
}

// loadFromCache replaces the working set with the cached collection.
// Returns false on miss; malformed entries are cleared and count as misses.
func (e *Engine) loadFromCache(roomID string) bool {
	key := cache.MessagesKey(roomID)
	raw, ok, err := e.store.Get(key)
	if err != nil {
		e.logger.Warn("cache read failed", zap.String("room", roomID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	var cached cachedFeed
	if err := json.Unmarshal(raw, &cached); err != nil {
		e.logger.Warn("clearing malformed cache entry", zap.String("room", roomID), zap.Error(err))
		_ = e.store.Remove(key)
		return false
	}
	if len(cached.Messages) == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.roomID != roomID {
		return false
	}
	e.messages = cached.Messages
	sortAscending(e.messages)
	e.cursor = minSentAt(e.messages)
	for _, m := range cached.Messages {
		if m.Author.ID != "" {
			e.profiles[m.Author.ID] = m.Author
		}
	}
	e.publishChangedLocked()
	return true
}

// LoadInitial re-runs the first-page fetch for the open room.
func (e *Engine) LoadInitial(ctx context.Context) {
	e.fetchPage(ctx, fetchInitial)
}

// LoadOlder fetches the next page of strictly older history.
func (e *Engine) LoadOlder(ctx context.Context) {
	e.fetchPage(ctx, fetchOlder)
}

// fetchPage performs one page fetch. At most one older fetch and one
// initial/refresh fetch may be in flight per room; the guards are dedicated
// flags checked and set atomically at entry, not derived state.
func (e *Engine) fetchPage(ctx context.Context, mode fetchMode) {
	e.mu.Lock()
	if e.roomID == "" {
		e.mu.Unlock()
		return
	}
	roomID := e.roomID
	epoch := e.epoch
	var before int64

	switch mode {
	case fetchOlder:
		if e.loadingMore || e.allLoaded || e.cursor == 0 {
			e.mu.Unlock()
			return
		}
		e.loadingMore = true
		before = e.cursor
	case fetchInitial:
		if e.refreshing {
			e.mu.Unlock()
			return
		}
		e.refreshing = true
		e.loading = true
		e.publishChangedLocked()
	case fetchRefresh:
		if e.refreshing {
			e.mu.Unlock()
			return
		}
		e.refreshing = true
	}
	withCount := mode != fetchOlder && e.total < 0
	e.mu.Unlock()

	page, total, err := e.backend.FetchPage(ctx, roomID, before, e.cfg.PageSize, withCount)

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		// Stale room: the guards were reset by Open, nothing to clear.
		return
	}

	switch mode {
	case fetchOlder:
		e.loadingMore = false
	default:
		e.refreshing = false
		e.loading = false
	}

	if err != nil {
		// Whatever was on screen (cache or prior page) stays visible.
		e.logger.Error("message fetch failed", zap.String("room", roomID), zap.Error(err))
		e.publishChangedLocked()
		return
	}

	if withCount && total >= 0 && e.total < 0 {
		e.total = total
	}

	switch mode {
	case fetchOlder:
		e.messages = mergeOlder(e.messages, page)
		if len(page) < e.cfg.PageSize {
			e.allLoaded = true
		}
	case fetchRefresh:
		e.messages = mergeRefresh(e.messages, page)
	case fetchInitial:
		sortAscending(page)
		e.messages = page
		if e.total >= 0 && e.total <= int64(e.cfg.PageSize) {
			e.allLoaded = true
		}
	}
	for _, m := range page {
		if m.Author.ID != "" {
			e.profiles[m.Author.ID] = m.Author
		}
	}

	e.recomputeDerivedLocked()
	e.schedulePersistLocked()
	e.publishChangedLocked()
}

// recomputeDerivedLocked updates the cursor (monotonic, backward only) and
// the completeness flag after any merge. Caller holds mu.
func (e *Engine) recomputeDerivedLocked() {
	if oldest := minSentAt(e.messages); oldest != 0 && (e.cursor == 0 || oldest < e.cursor) {
		e.cursor = oldest
	}
	if e.total >= 0 && int64(len(e.messages)) >= e.total {
		e.allLoaded = true
	}
}

// HandleRealtimeInsert reconciles one INSERT delivered by the change feed.
// Three-way de-duplication: held id, recently self-sent server id, and the
// body+author heuristic that catches the echo racing an optimistic send
// before the server id is known.
func (e *Engine) HandleRealtimeInsert(ctx context.Context, m Message) {
	e.mu.Lock()
	if m.RoomID != e.roomID {
		e.mu.Unlock()
		return
	}
	epoch := e.epoch

	if e.isDuplicateLocked(m) {
		e.mu.Unlock()
		return
	}

	prof, resolved := e.profiles[m.AuthorID]
	e.mu.Unlock()

	if !resolved {
		fetched, err := e.backend.FetchProfile(ctx, m.AuthorID)
		if err != nil {
			e.logger.Warn("author lookup failed", zap.String("user", m.AuthorID), zap.Error(err))
			prof = unknownAuthor
			prof.ID = m.AuthorID
		} else {
			prof = fetched
			resolved = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch || m.RoomID != e.roomID {
		return
	}
	// Re-check: the echo or a refresh may have landed during the lookup.
	if e.isDuplicateLocked(m) {
		return
	}

	// Only successful lookups are cached: a transient failure must not pin
	// the placeholder for every later message from this author.
	if resolved {
		e.profiles[m.AuthorID] = prof
	}
	m.Author = prof
	m.Status = StatusSent
	e.messages = append(e.messages, m)
	sortAscending(e.messages)

	e.recomputeDerivedLocked()
	e.schedulePersistLocked()
	e.publishChangedLocked()

	if m.AuthorID != e.userID {
		// Attention cue for the presentation layer; delivery is best-effort.
		e.bus.Publish(bus.Event{Kind: bus.KindFeedIncoming, Timestamp: e.now(), Payload: m})
	}
}

// isDuplicateLocked applies the three de-duplication checks. Caller holds mu.
func (e *Engine) isDuplicateLocked(m Message) bool {
	for _, held := range e.messages {
		if held.ID == m.ID {
			return true
		}
	}

	e.pruneSelfSentLocked()
	if _, ok := e.selfSent[m.ID]; ok {
		return true
	}

	// Heuristic content match: same author and body within the echo window.
	// Two genuinely distinct identical texts in quick succession are
	// misclassified here; log so the suppression is at least observable.
	window := e.cfg.EchoWindow().Milliseconds()
	for _, held := range e.messages {
		if held.AuthorID == m.AuthorID && held.Body == m.Body && abs64(held.SentAt-m.SentAt) <= window {
			e.logger.Debug("suppressed probable echo",
				zap.String("id", m.ID), zap.String("author", m.AuthorID))
			return true
		}
	}
	return false
}

func (e *Engine) pruneSelfSentLocked() {
	cutoff := e.now().Add(-e.cfg.EchoWindow())
	for id, at := range e.selfSent {
		if at.Before(cutoff) {
			delete(e.selfSent, id)
		}
	}
}

// Send appends an optimistic "sending" message immediately, then issues the
// remote insert. On success the temporary entry is replaced by the server
// row and the server id briefly suppresses the change-feed echo. On failure
// the entry flips to "error" in place; retrying is a new Send.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.roomID == "" {
		e.mu.Unlock()
		return ErrNoRoom
	}
	roomID := e.roomID
	epoch := e.epoch

	author, ok := e.profiles[e.userID]
	if !ok {
		author = Profile{ID: e.userID}
	}
	tempID := "local-" + uuid.NewString()
	optimistic := Message{
		ID:       tempID,
		RoomID:   roomID,
		AuthorID: e.userID,
		Body:     text,
		SentAt:   e.now().UnixMilli(),
		Author:   author,
		Status:   StatusSending,
	}
	e.messages = append(e.messages, optimistic)
	e.pendingText = ""
	e.schedulePersistLocked()
	e.publishChangedLocked()
	e.mu.Unlock()

	sent, err := e.backend.SendMessage(ctx, roomID, e.userID, text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch || roomID != e.roomID {
		return nil
	}

	if err != nil {
		e.logger.Error("send failed", zap.String("room", roomID), zap.Error(err))
		for i := range e.messages {
			if e.messages[i].ID == tempID {
				e.messages[i].Status = StatusError
				break
			}
		}
		e.schedulePersistLocked()
		e.publishChangedLocked()
		e.bus.Publish(bus.Event{Kind: bus.KindFeedSendFailed, Timestamp: e.now(), Payload: tempID})
		return err
	}

	e.selfSent[sent.ID] = e.now()
	if sent.Author.Name == "" && author.Name != "" {
		sent.Author = author
	}

	echoed := false
	for i := range e.messages {
		if e.messages[i].ID == sent.ID {
			echoed = true
			break
		}
	}
	tempHeld := false
	replaced := e.messages[:0]
	for _, m := range e.messages {
		if m.ID == tempID {
			tempHeld = true
			if echoed {
				continue // the echo already delivered the server row
			}
			m = sent
		}
		replaced = append(replaced, m)
	}
	e.messages = replaced
	if !tempHeld && !echoed {
		// A wholesale replacement (initial fetch finishing mid-send) can
		// evict the optimistic entry while the insert is in flight. The ack
		// is then the only copy: append it, since the echo it suppresses
		// will never be applied.
		e.messages = append(e.messages, sent)
	}
	sortAscending(e.messages)

	e.recomputeDerivedLocked()
	e.schedulePersistLocked()
	e.publishChangedLocked()

	if e.notifier != nil {
		// Fire-and-forget; its failure is the notifier's to log.
		go e.notifier.MessageSent(context.WithoutCancel(ctx), roomID, sent.ID)
	}
	return nil
}

// SetPendingText updates the outbound composer binding.
func (e *Engine) SetPendingText(text string) {
	e.mu.Lock()
	e.pendingText = text
	e.mu.Unlock()
}

// Snapshot returns a copy of the engine's presentation-facing state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := make([]Message, len(e.messages))
	copy(msgs, e.messages)
	return Snapshot{
		RoomID:      e.roomID,
		Messages:    msgs,
		Loading:     e.loading,
		LoadingMore: e.loadingMore,
		AllLoaded:   e.allLoaded,
		PendingText: e.pendingText,
	}
}

// publishChangedLocked emits the state-change event. Caller holds mu.
func (e *Engine) publishChangedLocked() {
	e.bus.Publish(bus.Event{Kind: bus.KindFeedChanged, Timestamp: e.now(), Payload: e.roomID})
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
