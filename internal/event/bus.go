package event

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/safecall"
)

// Wildcard is the event type that matches every published event.
const Wildcard = "*"

// Handler is a function that handles an event.
type Handler func(Event)

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a synchronous pub-sub event bus. It lets the tuner, the TUI and
// logging observe scheduler outcomes without the scheduler components
// knowing about them.
//
// Publish runs handlers on the caller's goroutine. The scheduler publishes
// from its own thread, so handlers may call back into scheduler components.
type Bus struct {
	mu        sync.RWMutex
	subs      []subscription // registration order
	logger    *logging.Logger
	published uint64
	failures  uint64
}

// NewBus creates a new event bus. A nil logger discards handler failures.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{logger: logging.OrNop(logger).WithComponent("event")}
}

// Subscribe registers handler for eventType and returns its subscription ID.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	b.mu.Unlock()
	return id
}

// SubscribeTypes registers handler once per event type and returns the IDs
// in the same order.
func (b *Bus) SubscribeTypes(handler Handler, eventTypes ...string) []string {
	ids := make([]string, 0, len(eventTypes))
	for _, t := range eventTypes {
		ids = append(ids, b.Subscribe(t, handler))
	}
	return ids
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// Unsubscribe removes a subscription by ID. It reports whether one was removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.subs)
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	return len(b.subs) < n
}

// matching returns the handlers for eventType: exact subscribers first, then
// wildcard subscribers, each group in registration order.
func (b *Bus) matching(eventType string) []Handler {
	var exact, wild []Handler
	for _, s := range b.subs {
		switch s.eventType {
		case eventType:
			exact = append(exact, s.handler)
		case Wildcard:
			wild = append(wild, s.handler)
		}
	}
	return append(exact, wild...)
}

// Publish delivers event to every matching handler. Handlers subscribed or
// removed during delivery take effect from the next Publish. A handler that
// panics is logged at the Critical tier and delivery continues.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	b.published++
	handlers := b.matching(event.EventType())
	b.mu.Unlock()

	site := safecall.Site{Component: "event", Key: event.EventType()}
	for _, h := range handlers {
		if _, err := safecall.Invoke(b.logger, site, nil, func() { h(event) }); err != nil {
			b.mu.Lock()
			b.failures++
			b.mu.Unlock()
		}
	}
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns how many events were published and how many handler calls failed.
func (b *Bus) Stats() (published, failures uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published, b.failures
}
