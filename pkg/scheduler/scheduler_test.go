package scheduler_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence/file"
	"github.com/dukex/cartflow/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) enqueue(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()

	r.ch <- id
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()

	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no execution enqueued")

		return ""
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ids)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitingExecution(id string, resumeAt time.Time) *models.Execution {
	return &models.Execution{
		ID:            id,
		AutomationID:  "auto-1",
		GraphVersion:  1,
		CurrentNodeID: "wait",
		Status:        models.ExecutionWaitingDelay,
		ResumeAt:      &resumeAt,
		DedupeKey:     "auto-1|" + id + "|customer:1",
		CreatedAt:     resumeAt.Add(-time.Hour),
		UpdatedAt:     resumeAt.Add(-time.Hour),
	}
}

func TestScheduler_TimerFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	s := scheduler.New(p.ExecutionRepository(), rec.enqueue, clock, metrics.NewNop(), testLogger(), scheduler.Config{})

	s.Schedule("exec-1", clock.Now().Add(time.Hour))
	assert.True(t, s.Armed("exec-1"))

	clock.Advance(59 * time.Minute)
	assert.Equal(t, 0, rec.count())

	clock.Advance(time.Minute)
	assert.Equal(t, "exec-1", rec.wait(t))
	assert.False(t, s.Armed("exec-1"))

	clock.Advance(time.Hour)
	assert.Equal(t, 1, rec.count())
}

func TestScheduler_RescheduleAndCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	s := scheduler.New(p.ExecutionRepository(), rec.enqueue, clock, metrics.NewNop(), testLogger(), scheduler.Config{})

	s.Schedule("exec-1", clock.Now().Add(time.Minute))
	s.Schedule("exec-1", clock.Now().Add(time.Hour))
	s.Schedule("exec-2", clock.Now().Add(time.Minute))
	s.Cancel("exec-2")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, rec.count(), "re-armed and cancelled timers must not fire")

	clock.Advance(time.Hour)
	assert.Equal(t, "exec-1", rec.wait(t))
}

func TestScheduler_PastTimeEnqueuesImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	s := scheduler.New(p.ExecutionRepository(), rec.enqueue, clock, metrics.NewNop(), testLogger(), scheduler.Config{})

	s.Schedule("exec-1", clock.Now().Add(-time.Minute))
	assert.Equal(t, "exec-1", rec.wait(t))
	assert.False(t, s.Armed("exec-1"))
}

func TestScheduler_ReloadRearmsWaitingExecutions(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	rec := newRecorder()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	executions := p.ExecutionRepository()
	require.NoError(t, executions.Create(ctx, waitingExecution("overdue", clock.Now().Add(-time.Minute))))
	require.NoError(t, executions.Create(ctx, waitingExecution("later", clock.Now().Add(time.Hour))))

	s := scheduler.New(executions, rec.enqueue, clock, metrics.NewNop(), testLogger(), scheduler.Config{SweepSchedule: "@every 1h"})
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)

	assert.Equal(t, "overdue", rec.wait(t))
	assert.True(t, s.Armed("later"))

	clock.Advance(time.Hour)
	assert.Equal(t, "later", rec.wait(t))
}

func TestScheduler_SweepPicksUpDueAndStale(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	rec := newRecorder()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	executions := p.ExecutionRepository()
	require.NoError(t, executions.Create(ctx, waitingExecution("due", clock.Now().Add(-time.Second))))
	require.NoError(t, executions.Create(ctx, waitingExecution("future", clock.Now().Add(time.Hour))))

	stale := waitingExecution("stale", clock.Now())
	stale.Status = models.ExecutionRunning
	stale.ResumeAt = nil
	stale.UpdatedAt = clock.Now().Add(-10 * time.Minute)
	require.NoError(t, executions.Create(ctx, stale))

	s := scheduler.New(executions, rec.enqueue, clock, metrics.NewNop(), testLogger(), scheduler.Config{StaleAfter: 5 * time.Minute})

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := []string{rec.wait(t), rec.wait(t)}
	assert.ElementsMatch(t, []string{"due", "stale"}, got)
}

func TestScheduler_InvalidSweepSchedule(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	s := scheduler.New(p.ExecutionRepository(), func(string) {}, clockwork.NewFakeClock(), metrics.NewNop(), testLogger(), scheduler.Config{SweepSchedule: "every so often"})
	assert.Error(t, s.Start(context.Background()))
}
