package workpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

func TestSubmitDeliversResult(t *testing.T) {
	p := New(2, logger.Discard())
	defer p.Close()

	reply, err := p.Submit(context.Background(), func(ctx context.Context) domain.ExecutionResult {
		return domain.OKResult("echo", map[string]any{"v": 1}, time.Millisecond)
	})
	require.NoError(t, err)

	res := <-reply
	assert.True(t, res.Success)
	assert.Equal(t, "echo", res.ToolName)
}

func TestAbandonedReplyDoesNotBlockWorker(t *testing.T) {
	p := New(1, logger.Discard())
	defer p.Close()

	ran := make(chan struct{})
	_, err := p.Submit(context.Background(), func(ctx context.Context) domain.ExecutionResult {
		close(ran)
		return domain.OKResult("slow", nil, 0)
	})
	require.NoError(t, err)

	// Never read the reply. The single worker must still become free
	// for the next task.
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}

	reply, err := p.Submit(context.Background(), func(ctx context.Context) domain.ExecutionResult {
		return domain.OKResult("next", nil, 0)
	})
	require.NoError(t, err)

	select {
	case res := <-reply:
		assert.Equal(t, "next", res.ToolName)
	case <-time.After(2 * time.Second):
		t.Fatal("worker blocked on abandoned reply")
	}
}

func TestPanickingTaskYieldsFailure(t *testing.T) {
	p := New(1, logger.Discard())
	defer p.Close()

	reply, err := p.Submit(context.Background(), func(ctx context.Context) domain.ExecutionResult {
		panic("boom")
	})
	require.NoError(t, err)

	res := <-reply
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(1, logger.Discard())
	p.Close()

	_, err := p.Submit(context.Background(), func(ctx context.Context) domain.ExecutionResult {
		return domain.ExecutionResult{}
	})
	assert.ErrorIs(t, err, domain.ErrPoolClosed)
}

func TestSubmitRespectsContext(t *testing.T) {
	p := New(1, logger.Discard())
	defer p.Close()

	// Occupy the only worker.
	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reply, err := p.Submit(context.Background(), func(ctx context.Context) domain.ExecutionResult {
			<-block
			return domain.ExecutionResult{}
		})
		require.NoError(t, err)
		<-reply
	}()

	// Wait until the worker picked up the blocking task.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, func(ctx context.Context) domain.ExecutionResult {
		return domain.ExecutionResult{}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	wg.Wait()
}
