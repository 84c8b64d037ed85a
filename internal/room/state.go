package room

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
)

// State is a phase of the room engine's trust-then-verify lifecycle.
type State string

const (
	// Uninitialized: no room open, or a room just switched in.
	Uninitialized State = "UNINITIALIZED"
	// CacheChecked: the optimistic cache read completed (hit or miss).
	CacheChecked State = "CACHE_CHECKED"
	// Resolved: authoritative network state applied. Revisitable via
	// refresh without returning to earlier states.
	Resolved State = "RESOLVED"
)

// validTransitions defines allowed state transitions. Errors are carried as
// a side-channel flag, not a state, so there is no terminal error state.
var validTransitions = map[State][]State{
	Uninitialized: {CacheChecked},
	CacheChecked:  {Resolved, Uninitialized},
	Resolved:      {Resolved, Uninitialized},
}

// StatusChange is the payload for room state change events.
type StatusChange struct {
	From State
	To   State
}

// machine tracks and enforces the per-room lifecycle transitions.
type machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

func newMachine(b *bus.Bus) *machine {
	return &machine{current: Uninitialized, bus: b}
}

func (m *machine) state() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// transition attempts to move to a new state, publishing the change.
func (m *machine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid room state transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindRoomStateChanged,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}
