// Package bus implements the topic-indexed, synchronous publish/subscribe
// bus that components use to fan market data and account events out to
// strategy-facing handlers.
package bus

import (
	"log/slog"
	"reflect"
	"sync"
)

// Handler receives a published message. Handlers run synchronously on the
// publisher's goroutine and must not block — long work belongs on the
// TaskManager.
type Handler func(msg any)

// Bus is a topic-indexed publish/subscribe dispatcher. Publish invokes every
// handler registered for a topic, synchronously, in registration order. A
// handler panic is recovered and logged; it is never allowed to reach the
// publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// New constructs an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "bus"),
	}
}

// Subscribe registers handler for topic. Idempotent: subscribing the same
// handler value to the same topic twice is a no-op. Handler identity is
// the function's code pointer, so closures created from the same function
// literal count as the same handler even when they capture different state.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range b.handlers[topic] {
		if sameHandler(h, handler) {
			return
		}
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Unsubscribe removes handler from topic, if present.
func (b *Bus) Unsubscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs := b.handlers[topic]
	for i, h := range hs {
		if sameHandler(h, handler) {
			b.handlers[topic] = append(hs[:i], hs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler registered for topic, synchronously, in
// registration order. Handlers that panic are logged and skipped; the panic
// never propagates to the caller.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	// Copy the slice under the lock so a handler that subscribes or
	// unsubscribes during dispatch cannot race the slice backing array.
	hs := make([]Handler, len(b.handlers[topic]))
	copy(hs, b.handlers[topic])
	b.mu.RUnlock()

	for _, h := range hs {
		b.invoke(topic, h, msg)
	}
}

func (b *Bus) invoke(topic string, h Handler, msg any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(msg)
}

// sameHandler compares two Handler values by the code pointer of the
// function they wrap; captured variables are not compared. Go forbids == on
// func values directly, so this goes through reflect; subscription churn is
// low-frequency enough that the cost is irrelevant.
func sameHandler(a, b Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
