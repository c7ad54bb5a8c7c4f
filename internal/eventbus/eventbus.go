// Package eventbus implements the in-process event fan-out described in
// spec.md §4.7: subscribers register per event name, callbacks run
// sequentially in registration order, and a subscriber's error never
// affects its siblings or the main data path.
package eventbus

import (
	"log/slog"
	"sync"
)

// EventName is one of the envelope kinds named in §3.
type EventName string

const (
	EventRequest                  EventName = "request"
	EventResponse                 EventName = "response"
	EventAbort                    EventName = "abort"
	EventWebSocketRequest         EventName = "websocket-request"
	EventWebSocketAccepted        EventName = "websocket-accepted"
	EventWebSocketMessageReceived EventName = "websocket-message-received"
	EventWebSocketMessageSent     EventName = "websocket-message-sent"
	EventWebSocketClose           EventName = "websocket-close"
	EventTLSClientError           EventName = "tls-client-error"
	EventClientError              EventName = "client-error"
	EventRawPassthroughOpened     EventName = "raw-passthrough-opened"
	EventRawPassthroughClosed     EventName = "raw-passthrough-closed"
	EventRuleEvent                EventName = "rule-event"
)

// Subscriber receives an event payload. Its concrete shape is specific to
// the EventName it was registered against (e.g. *model.Request for
// EventRequest); callers type-assert.
type Subscriber func(payload any)

// Bus is a per-event-name fan-out registry.
//
// Thread-safe: the subscriber list is copy-on-write per Subscribe/
// Unsubscribe (§5); emissions iterate a stable snapshot so a subscriber
// that subscribes/unsubscribes mid-emission never races the in-flight
// iteration.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventName][]*subscription
	seq  int
}

type subscription struct {
	id  int
	fn  Subscriber
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[EventName][]*subscription)}
}

// handle identifies a previously-registered subscription for Off.
type handle struct {
	name EventName
	id   int
}

// On registers fn against name, returning a handle usable with Off.
func (b *Bus) On(name EventName, fn Subscriber) any {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &subscription{id: b.seq, fn: fn}

	existing := b.subs[name]
	next := make([]*subscription, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = sub
	b.subs[name] = next

	return handle{name: name, id: sub.id}
}

// Off removes a previously-registered subscriber.
func (b *Bus) Off(h any) {
	hd, ok := h.(handle)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subs[hd.name]
	next := make([]*subscription, 0, len(existing))
	for _, s := range existing {
		if s.id != hd.id {
			next = append(next, s)
		}
	}
	b.subs[hd.name] = next
}

// Emit invokes every subscriber registered for name, in registration order,
// isolating panics/errors so one misbehaving subscriber cannot affect
// another or the caller's data path.
func (b *Bus) Emit(name EventName, payload any) {
	b.mu.RLock()
	snapshot := b.subs[name]
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.invokeSafely(name, s, payload)
	}
}

func (b *Bus) invokeSafely(name EventName, s *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", name, "recovered", r)
		}
	}()
	s.fn(payload)
}
