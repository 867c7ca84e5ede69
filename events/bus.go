package events

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryBus is a thread-safe in-process event bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[Type][]handlerEntry
	nextID   int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an empty InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[Type][]handlerEntry)}
}

// Publish delivers ev to every subscriber of ev.Type. Handlers run
// synchronously; the first handler error is reported after all handlers
// have been invoked.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[ev.Type]))
	for _, e := range b.handlers[ev.Type] {
		targets = append(targets, e.handler)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d handler error(s): %v", ev.Type, len(errs), errs[0])
	}
	return nil
}

// Subscribe registers a handler for events of type t.
// The returned function unsubscribes the handler.
func (b *InMemoryBus) Subscribe(t Type, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[t]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = filtered
		}
	}
}
