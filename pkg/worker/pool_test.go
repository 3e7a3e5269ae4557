package worker_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/lease"
	"github.com/dukex/cartflow/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPool_ResumesEveryExecution(t *testing.T) {
	pool := worker.NewPool(3, 16, testLogger())

	var (
		mu      sync.Mutex
		resumed = map[string]int{}
		wg      sync.WaitGroup
	)

	wg.Add(10)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	go func() {
		pool.Run(ctx, func(_ context.Context, id string) error {
			mu.Lock()
			resumed[id]++
			mu.Unlock()
			wg.Done()

			if id == "exec-3" {
				return lease.ErrNotAcquired
			}

			return nil
		})
		close(stopped)
	}()

	for i := range 10 {
		pool.Enqueue(fmt.Sprintf("exec-%d", i))
	}

	wg.Wait()
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	require.Len(t, resumed, 10)

	for id, n := range resumed {
		assert.Equal(t, 1, n, id)
	}
}

func TestPool_RecoversFromPanic(t *testing.T) {
	pool := worker.NewPool(1, 4, testLogger())

	var calls atomic.Int32

	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pool.Run(ctx, func(_ context.Context, id string) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}

		close(done)

		return nil
	})

	pool.Enqueue("exec-1")
	pool.Enqueue("exec-2")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second execution not resumed after panic")
	}

	assert.Equal(t, int32(2), calls.Load())
}

func TestPool_EnqueueAfterStopDoesNotBlock(t *testing.T) {
	pool := worker.NewPool(1, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool.Run(ctx, func(context.Context, string) error { return nil })

	pool.Enqueue("exec-1")

	enqueued := make(chan struct{})

	go func() {
		pool.Enqueue("exec-2")
		close(enqueued)
	}()

	select {
	case <-enqueued:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked after stop")
	}
}
