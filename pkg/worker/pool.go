// Package worker runs executions on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukex/cartflow/pkg/lease"
)

// ResumeFunc advances one execution.
type ResumeFunc func(ctx context.Context, executionID string) error

// Pool feeds execution ids to a fixed number of goroutines. The scheduler
// and the matcher enqueue; the engine resumes.
type Pool struct {
	size   int
	queue  chan string
	logger *slog.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

const (
	defaultSize  = 4
	defaultQueue = 1024
)

func NewPool(size, queue int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = defaultSize
	}

	if queue <= 0 {
		queue = defaultQueue
	}

	return &Pool{
		size:   size,
		queue:  make(chan string, queue),
		logger: logger.With("module", "worker_pool"),
		done:   make(chan struct{}),
	}
}

// Enqueue hands an execution to the pool. It blocks while the queue is full
// and drops the id once the pool stopped; the sweep picks dropped ids up again.
func (p *Pool) Enqueue(executionID string) {
	select {
	case p.queue <- executionID:
	case <-p.done:
		p.logger.Debug("pool stopped, dropping execution", "execution_id", executionID)
	}
}

// Run starts the goroutines and blocks until ctx is cancelled and every
// in-progress resume has returned.
func (p *Pool) Run(ctx context.Context, resume ResumeFunc) {
	p.logger.InfoContext(ctx, "starting worker pool", "size", p.size)

	for i := range p.size {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			p.loop(ctx, i, resume)
		}()
	}

	<-ctx.Done()
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()

	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, slot int, resume ResumeFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.run(ctx, slot, id, resume)
		}
	}
}

func (p *Pool) run(ctx context.Context, slot int, executionID string, resume ResumeFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "resume panicked", "execution_id", executionID, "slot", slot, "panic", r)
		}
	}()

	err := resume(ctx, executionID)

	switch {
	case err == nil:
	case errors.Is(err, lease.ErrNotAcquired):
		p.logger.DebugContext(ctx, "execution owned by another worker", "execution_id", executionID)
	case errors.Is(err, context.Canceled):
	default:
		p.logger.ErrorContext(ctx, "failed to resume execution", "execution_id", executionID, "slot", slot, "error", err)
	}
}

// Pending is the number of queued executions not yet picked up.
func (p *Pool) Pending() int {
	return len(p.queue)
}
