package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher fans domain events out to in-process subscribers.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// syncDispatcher runs handlers on the publishing goroutine, in
// subscription order. Publishers rely on this to keep per-ticket order.
type syncDispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

// NewInMemoryDispatcher creates a synchronous dispatcher.
func NewInMemoryDispatcher() Dispatcher {
	return &syncDispatcher{handlers: make(map[EventType][]EventHandler)}
}

// Publish invokes every handler for event.Type. A failing or panicking
// handler does not stop the others; failures are joined.
func (d *syncDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.Type]
	d.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := invoke(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", event.Type, i, err))
		}
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Subscribe registers a handler for the given event type.
func (d *syncDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// copy on write so Publish can iterate without holding the lock
	next := make([]EventHandler, len(d.handlers[eventType]), len(d.handlers[eventType])+1)
	copy(next, d.handlers[eventType])
	d.handlers[eventType] = append(next, handler)
}
