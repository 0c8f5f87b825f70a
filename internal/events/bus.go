package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/salesboost/exitintent/internal/model"
)

// ErrPermanent marks a handler failure that retrying cannot fix. The worker
// dead-letters such events immediately.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// HandlerFunc handles one store event. Handlers must be idempotent: an event
// may be delivered more than once.
type HandlerFunc func(ctx context.Context, event *model.StoreEvent) error

type subscription struct {
	name    string
	handler HandlerFunc
}

// Bus routes events to the handlers subscribed to their type.
type Bus struct {
	mu   sync.RWMutex
	subs map[model.StoreEventType][]subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[model.StoreEventType][]subscription)}
}

// Subscribe registers handler for events of type t.
func (b *Bus) Subscribe(t model.StoreEventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{name: name, handler: handler})
}

// Subscribers returns the handler names registered for t.
func (b *Bus) Subscribers(t model.StoreEventType) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs[t]))
	for _, s := range b.subs[t] {
		names = append(names, s.name)
	}
	return names
}

// Dispatch runs every handler subscribed to the event's type and joins
// their errors.
func (b *Bus) Dispatch(ctx context.Context, event *model.StoreEvent) error {
	b.mu.RLock()
	subs := b.subs[event.Type]
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
