// Package workpool provides a bounded worker pool for blocking tool
// execution. Submitters receive a reply channel; reads from it can be
// abandoned on disconnect while the worker runs the task to completion.
package workpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"deskpilot/internal/domain"
)

// Task is one unit of blocking work.
type Task func(ctx context.Context) domain.ExecutionResult

type submission struct {
	ctx   context.Context
	task  Task
	reply chan domain.ExecutionResult
}

// Pool runs tasks on a fixed number of worker goroutines.
type Pool struct {
	tasks  chan submission
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New starts a pool with the given number of workers.
func New(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		tasks:  make(chan submission),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit hands a task to the pool and returns a reply channel that will
// receive exactly one result. The channel is buffered, so an abandoned
// reader never blocks the worker: the task still runs to completion and
// its result is simply discarded.
//
// The task receives the submission context; cancel semantics are the
// caller's choice (pass a detached context to let in-flight work finish
// after disconnect).
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan domain.ExecutionResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, domain.ErrPoolClosed
	}
	reply := make(chan domain.ExecutionResult, 1)
	select {
	case p.tasks <- submission{ctx: ctx, task: task, reply: reply}:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for sub := range p.tasks {
		sub.reply <- p.run(sub)
	}
}

func (p *Pool) run(sub submission) (result domain.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
			result = domain.FailResult("", fmt.Sprintf("%s: task panic: %v", domain.ErrUnknown, r), 0)
		}
	}()
	return sub.task(sub.ctx)
}

// Close stops accepting submissions and waits for in-flight tasks.
// Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
