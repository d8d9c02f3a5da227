// Package bus implements the synchronous in-process event bus. Publication
// iterates subscribers in registration order; a failing subscriber is logged
// and never blocks the rest.
package bus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/werserk/kira/internal/logging"
)

// Event is one published occurrence. Payload values are JSON-compatible.
type Event struct {
	Name          string
	Payload       map[string]any
	CorrelationID string
}

// Handler consumes one event. Returned errors are logged with the
// correlation ID and suppressed; they never propagate to the publisher.
type Handler func(Event) error

// Bus is a synchronous typed pub/sub. Within a single publishing goroutine,
// subscribers observe events in publish order. The bus provides no
// durability; the dedupe store gates incoming events upstream.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	all    []subscription
	nextID int
	log    *logging.Logger
}

type subscription struct {
	id      int
	handler Handler
}

// New returns an empty bus. log may be nil.
func New(log *logging.Logger) *Bus {
	return &Bus{subs: make(map[string][]subscription), log: log}
}

// Subscribe registers handler for the named event and returns an
// unsubscribe function.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	b.subs[name] = append(b.subs[name], sub)
	id := sub.id
	return func() { b.unsubscribe(name, id) }
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	b.all = append(b.all, sub)
	id := sub.id
	return func() { b.unsubscribe("", id) }
}

func (b *Bus) unsubscribe(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.all = removeSub(b.all, id)
		return
	}
	b.subs[name] = removeSub(b.subs[name], id)
}

func removeSub(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish delivers the event synchronously to every matching subscriber in
// registration order. If correlationID is empty a fresh one is minted and
// returned. Subscriber errors and panics are isolated.
func (b *Bus) Publish(name string, payload map[string]any, correlationID string) string {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	event := Event{Name: name, Payload: payload, CorrelationID: correlationID}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[name])+len(b.all))
	targets = append(targets, b.subs[name]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event)
	}
	return correlationID
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logSubscriberFailure(event, fmt.Errorf("subscriber panic: %v", r))
		}
	}()
	if err := sub.handler(event); err != nil {
		b.logSubscriberFailure(event, err)
	}
}

func (b *Bus) logSubscriberFailure(event Event, err error) {
	if b.log == nil {
		return
	}
	b.log.Error("subscriber failed", map[string]any{
		"event":          event.Name,
		"correlation_id": event.CorrelationID,
		"error":          map[string]any{"type": "subscriber_error", "message": err.Error()},
	})
}
