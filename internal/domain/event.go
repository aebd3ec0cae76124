package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event published on the internal bus.
type EventType string

const (
	EventQueryReceived  EventType = "query.received"
	EventQueryRouted    EventType = "query.routed"
	EventQueryCompleted EventType = "query.completed"

	EventToolExecStarted   EventType = "tool.execution.started"
	EventToolExecCompleted EventType = "tool.execution.completed"

	EventIntegrationLoaded   EventType = "integration.loaded"
	EventIntegrationUnloaded EventType = "integration.unloaded"
	EventIntegrationDegraded EventType = "integration.degraded"

	EventStreamTerminal EventType = "stream.terminal"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for internal events.
// This is in-process observability plumbing, distinct from the per-query
// client stream.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
