package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

func publishAndWait(b *Bus, t domain.EventType) {
	b.Publish(context.Background(), domain.Event{Type: t, Timestamp: time.Now()})
	// Handlers run on their own goroutines; Close waits for them.
	b.Close()
}

func TestPublishReachesTypedSubscriber(t *testing.T) {
	b := New(logger.Discard())

	var mu sync.Mutex
	var got []domain.EventType
	b.Subscribe(domain.EventQueryReceived, func(_ context.Context, ev domain.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})
	b.Subscribe(domain.EventQueryCompleted, func(_ context.Context, ev domain.Event) {
		mu.Lock()
		got = append(got, "WRONG:"+ev.Type)
		mu.Unlock()
	})

	publishAndWait(b, domain.EventQueryReceived)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.EventType{domain.EventQueryReceived}, got)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	b := New(logger.Discard())

	var mu sync.Mutex
	count := 0
	b.SubscribeAll(func(context.Context, domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventQueryReceived})
	b.Publish(context.Background(), domain.Event{Type: domain.EventToolExecStarted})
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(logger.Discard())

	var mu sync.Mutex
	count := 0
	unsub := b.Subscribe(domain.EventQueryReceived, func(context.Context, domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	publishAndWait(b, domain.EventQueryReceived)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestPanickingHandlerIsRecovered(t *testing.T) {
	b := New(logger.Discard())

	var mu sync.Mutex
	delivered := false
	b.Subscribe(domain.EventQueryReceived, func(context.Context, domain.Event) {
		panic("boom")
	})
	b.Subscribe(domain.EventQueryReceived, func(context.Context, domain.Event) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	publishAndWait(b, domain.EventQueryReceived)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, delivered, "one panicking subscriber must not take down the others")
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	b := New(logger.Discard())

	count := 0
	b.Subscribe(domain.EventQueryReceived, func(context.Context, domain.Event) { count++ })

	b.Close()
	b.Publish(context.Background(), domain.Event{Type: domain.EventQueryReceived})
	b.Close() // idempotent

	assert.Zero(t, count)
}
