package room

import (
	"testing"
	"time"

	"github.com/gmcamargo/koinonia/internal/bus"
)

func TestMachineHappyPath(t *testing.T) {
	m := newMachine(nil)
	if got := m.state(); got != Uninitialized {
		t.Fatalf("initial state = %s, want %s", got, Uninitialized)
	}
	if err := m.transition(CacheChecked); err != nil {
		t.Fatalf("to CacheChecked: %v", err)
	}
	if err := m.transition(Resolved); err != nil {
		t.Fatalf("to Resolved: %v", err)
	}
	// Refresh re-enters Resolved.
	if err := m.transition(Resolved); err != nil {
		t.Fatalf("Resolved re-entry: %v", err)
	}
	// Room switch resets.
	if err := m.transition(Uninitialized); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestMachineRejectsSkippingCacheCheck(t *testing.T) {
	m := newMachine(nil)
	if err := m.transition(Resolved); err == nil {
		t.Fatal("expected Uninitialized -> Resolved to be rejected")
	}
	if got := m.state(); got != Uninitialized {
		t.Fatalf("state after rejected transition = %s, want %s", got, Uninitialized)
	}
}

func TestMachinePublishesStateChanges(t *testing.T) {
	b := bus.New()
	ch, cancel := b.Subscribe(bus.KindRoomStateChanged, 4)
	defer cancel()

	m := newMachine(b)
	if err := m.transition(CacheChecked); err != nil {
		t.Fatalf("transition: %v", err)
	}

	select {
	case ev := <-ch:
		change, ok := ev.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if change.From != Uninitialized || change.To != CacheChecked {
			t.Fatalf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no state change event")
	}
}
