package feed

import (
	"encoding/json"
	"time"

	"github.com/gmcamargo/koinonia/internal/cache"
	"go.uber.org/zap"
)

// schedulePersistLocked arms (or re-arms) the debounced cache write after a
// successful mutation of the working set. The debounce coalesces the bursts
// a refresh merge or rapid sends produce. Caller holds mu.
func (e *Engine) schedulePersistLocked() {
	if e.cfg.PersistDebounce() <= 0 {
		e.persistLocked()
		return
	}
	roomID := e.roomID
	epoch := e.epoch
	if e.persistTimer != nil {
		e.persistTimer.Stop()
	}
	e.persistTimer = time.AfterFunc(e.cfg.PersistDebounce(), func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.epoch != epoch || e.roomID != roomID {
			return
		}
		e.persistLocked()
	})
}

// persistLocked writes the de-duplicated most-recent-N messages for the
// room. Cache writes are a warm-start optimization: failures are logged and
// never propagate. Caller holds mu.
func (e *Engine) persistLocked() {
	if e.roomID == "" {
		return
	}

	msgs := make([]Message, len(e.messages))
	copy(msgs, e.messages)
	msgs = dedupeByID(msgs)
	if n := e.cfg.CacheCap; n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}

	payload, err := json.Marshal(cachedFeed{Messages: msgs})
	if err != nil {
		e.logger.Warn("cache marshal failed", zap.String("room", e.roomID), zap.Error(err))
		return
	}
	if err := e.store.Set(cache.MessagesKey(e.roomID), payload); err != nil {
		e.logger.Warn("cache write failed", zap.String("room", e.roomID), zap.Error(err))
	}
}
