package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
	"deskpilot/internal/usecase/eventbus"
)

type capturingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *capturingPublisher) Publish(_ context.Context, _, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

func TestBusBridgeForwardsEvents(t *testing.T) {
	bus := eventbus.New(logger.Discard())
	pub := &capturingPublisher{}
	bridge := NewBusBridge(bus, pub, "deskpilot.audit", logger.Discard())
	defer bridge.Close()

	bus.Publish(context.Background(), domain.Event{
		Type: domain.EventQueryReceived, Timestamp: time.Now(), SessionID: "s-1",
	})
	bus.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []string{string(domain.EventQueryReceived)}, pub.keys)
}

func TestBusBridgeSwallowsPublishErrors(t *testing.T) {
	bus := eventbus.New(logger.Discard())
	pub := &capturingPublisher{err: errors.New("broker down")}
	bridge := NewBusBridge(bus, pub, "deskpilot.audit", logger.Discard())
	defer bridge.Close()

	// Must not panic or block the bus.
	bus.Publish(context.Background(), domain.Event{Type: domain.EventQueryCompleted})
	bus.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.keys, 1)
}

func TestBusBridgeCloseDetaches(t *testing.T) {
	bus := eventbus.New(logger.Discard())
	pub := &capturingPublisher{}
	bridge := NewBusBridge(bus, pub, "t", logger.Discard())
	bridge.Close()

	bus.Publish(context.Background(), domain.Event{Type: domain.EventQueryReceived})
	bus.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.keys)
}
