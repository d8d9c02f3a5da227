package bus

import (
	"errors"
	"testing"
)

func TestPublishOrder(t *testing.T) {
	b := New(nil)
	var order []string
	b.Subscribe("x", func(Event) error { order = append(order, "first"); return nil })
	b.Subscribe("x", func(Event) error { order = append(order, "second"); return nil })
	b.Publish("x", nil, "")
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v", order)
	}
}

func TestSubscriberIsolation(t *testing.T) {
	b := New(nil)
	var reached bool
	b.Subscribe("x", func(Event) error { return errors.New("boom") })
	b.Subscribe("x", func(Event) error { panic("worse") })
	b.Subscribe("x", func(Event) error { reached = true; return nil })
	b.Publish("x", nil, "")
	if !reached {
		t.Error("a failing subscriber blocked later subscribers")
	}
}

func TestCorrelationIDPropagates(t *testing.T) {
	b := New(nil)
	var got string
	b.Subscribe("x", func(e Event) error { got = e.CorrelationID; return nil })

	id := b.Publish("x", nil, "corr-1")
	if id != "corr-1" || got != "corr-1" {
		t.Errorf("correlation id: returned %q, delivered %q", id, got)
	}

	minted := b.Publish("x", nil, "")
	if minted == "" || got != minted {
		t.Errorf("minted correlation id: returned %q, delivered %q", minted, got)
	}
}

func TestPublisherOrderObserved(t *testing.T) {
	b := New(nil)
	var seen []string
	b.Subscribe("x", func(e Event) error {
		seen = append(seen, e.Payload["n"].(string))
		return nil
	})
	for _, n := range []string{"a", "b", "c"} {
		b.Publish("x", map[string]any{"n": n}, "")
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Errorf("events observed out of publish order: %v", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	count := 0
	cancel := b.Subscribe("x", func(Event) error { count++; return nil })
	b.Publish("x", nil, "")
	cancel()
	b.Publish("x", nil, "")
	if count != 1 {
		t.Errorf("handler ran %d times after unsubscribe, want 1", count)
	}
}

func TestSubscribeAll(t *testing.T) {
	b := New(nil)
	var names []string
	b.SubscribeAll(func(e Event) error { names = append(names, e.Name); return nil })
	b.Publish("a", nil, "")
	b.Publish("b", nil, "")
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("wildcard subscriber saw %v", names)
	}
}
