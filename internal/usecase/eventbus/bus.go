// Package eventbus is the in-process fan-out for lifecycle and audit
// events. It sits beside the per-query client stream, never on it: bus
// delivery is asynchronous and unordered, the stream is neither.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"deskpilot/internal/domain"
)

type subscriber struct {
	id uint64
	fn domain.EventHandler
}

// Bus delivers published events to subscribers, each invocation on its
// own goroutine so a slow or stuck subscriber never holds up the
// publisher. Ordering between events is not guaranteed, even for a
// single subscriber.
type Bus struct {
	mu     sync.RWMutex
	byType map[domain.EventType][]subscriber
	all    []subscriber
	lastID uint64 // guarded by mu

	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		byType: make(map[domain.EventType][]subscriber),
		logger: logger,
	}
}

// Publish hands event to every subscriber of its type plus every
// catch-all subscriber. Publishing after Close is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.byType[event.Type])+len(b.all))
	targets = append(targets, b.byType[event.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, s := range targets {
		b.wg.Add(1)
		go b.deliver(ctx, event, s.fn)
	}
}

func (b *Bus) deliver(ctx context.Context, event domain.Event, fn domain.EventHandler) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"panic", r,
			)
		}
	}()
	fn(ctx, event)
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	b.lastID++
	s := subscriber{id: b.lastID, fn: handler}
	b.byType[eventType] = append(b.byType[eventType], s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = withoutID(b.byType[eventType], s.id)
	}
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.lastID++
	s := subscriber{id: b.lastID, fn: handler}
	b.all = append(b.all, s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = withoutID(b.all, s.id)
	}
}

func withoutID(subs []subscriber, id uint64) []subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close stops accepting publishes and waits until every handler already
// in flight has returned. Safe to call more than once.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
