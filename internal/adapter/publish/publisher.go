// Package publish is the best-effort audit/analytics fan-out. Publish
// failures are logged and swallowed; nothing here may block or abort the
// execution path.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"

	"deskpilot/internal/domain"
)

// LogPublisher implements domain.Publisher by writing structured audit
// entries to the logger. Deployments with a real broker swap this for a
// broker-backed implementation behind the same interface.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates the logger-backed publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key string, message []byte) error {
	p.logger.Info("audit",
		"topic", topic,
		"key", key,
		"message", string(message),
	)
	return nil
}

var _ domain.Publisher = (*LogPublisher)(nil)

// BusBridge subscribes to the internal event bus and forwards every event
// to a Publisher. Handlers already run on bus goroutines, so the bridge
// never blocks publishers or the engine.
type BusBridge struct {
	topic       string
	publisher   domain.Publisher
	logger      *slog.Logger
	unsubscribe func()
}

// NewBusBridge wires bus events to the publisher under one topic.
func NewBusBridge(bus domain.EventBus, publisher domain.Publisher, topic string, logger *slog.Logger) *BusBridge {
	b := &BusBridge{topic: topic, publisher: publisher, logger: logger}
	b.unsubscribe = bus.SubscribeAll(b.handle)
	return b
}

func (b *BusBridge) handle(ctx context.Context, event domain.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("audit event marshal failed", "event", string(event.Type), "error", err)
		return
	}
	if err := b.publisher.Publish(ctx, b.topic, string(event.Type), msg); err != nil {
		// Best-effort by contract: log and move on.
		b.logger.Warn("audit publish failed", "event", string(event.Type), "error", err)
	}
}

// Close detaches the bridge from the bus.
func (b *BusBridge) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}
