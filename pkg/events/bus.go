// Package events implements the in-process publish/subscribe bus connecting
// the host, skills, and other skills. Subscribers for an event type run
// synchronously in subscription order; a failing subscriber never prevents
// later subscribers in the same emission from running.
package events

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/logger"
)

// Handler is a bus subscriber callback.
type Handler func(ctx context.Context, payload any) error

// Subscription identifies one registered handler so it can be removed later.
type Subscription int64

type subscriber struct {
	id Subscription
	fn Handler
}

// Bus is the shared event bus. State is owned by the host's single event
// loop; the mutex only guards against incidental cross-goroutine use.
type Bus struct {
	mu     sync.Mutex
	nextID Subscription
	subs   map[string][]subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers a handler for an event type and returns its
// subscription id. Handlers run in subscription order.
func (b *Bus) Subscribe(eventType string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: id, fn: fn})
	return id
}

// Unsubscribe removes a previously registered handler. Removing an unknown
// id is a no-op.
func (b *Bus) Unsubscribe(eventType string, id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of handlers registered for a type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[eventType])
}

// Emit invokes every subscriber for the event type in subscription order.
// Each failure (error or panic) is caught and logged individually; the
// aggregated error is returned for operator visibility only and is never
// treated as fatal by callers.
func (b *Bus) Emit(ctx context.Context, eventType string, payload any) error {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[eventType]))
	copy(subs, b.subs[eventType])
	b.mu.Unlock()

	var result *multierror.Error
	for _, s := range subs {
		if err := b.invoke(ctx, s, payload); err != nil {
			logger.G(ctx).WithError(err).WithField("event", eventType).Warn("event subscriber failed")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (b *Bus) invoke(ctx context.Context, s subscriber, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.fn(ctx, payload)
}
