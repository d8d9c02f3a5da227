// Package testutil provides fixtures shared across the core's tests: a
// deterministic clock, a temp-vault builder, and an event capture.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/fsm"
	"github.com/werserk/kira/internal/vault"
)

// Epoch is the pinned start instant for fake clocks.
var Epoch = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

// NewClock returns a fake clock pinned to Epoch.
func NewClock() *clock.Fake {
	return clock.NewFake(Epoch)
}

// Harness bundles a temp vault with its collaborators.
type Harness struct {
	Vault *vault.Store
	Bus   *bus.Bus
	FSM   *fsm.FSM
	Clock *clock.Fake
	Root  string
}

// NewVault builds a fully wired vault in a temp directory. Cleanup releases
// the lock when the test finishes.
func NewVault(t *testing.T) *Harness {
	t.Helper()
	root := t.TempDir()
	c := NewClock()
	b := bus.New(nil)
	f := fsm.New(c, b, nil)
	store, err := vault.Open(root, vault.Options{Clock: c, Bus: b, FSM: f})
	if err != nil {
		t.Fatalf("failed to open vault: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &Harness{Vault: store, Bus: b, FSM: f, Clock: c, Root: root}
}

// EventCapture records every event published on a bus.
type EventCapture struct {
	mu     sync.Mutex
	events []bus.Event
}

// Capture subscribes to all events on b.
func Capture(b *bus.Bus) *EventCapture {
	c := &EventCapture{}
	b.SubscribeAll(func(e bus.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, e)
		return nil
	})
	return c
}

// Events returns a snapshot of the captured events.
func (c *EventCapture) Events() []bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.Event(nil), c.events...)
}

// Named returns the captured events with the given name.
func (c *EventCapture) Named(name string) []bus.Event {
	var out []bus.Event
	for _, e := range c.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
