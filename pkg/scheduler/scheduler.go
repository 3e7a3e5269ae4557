// Package scheduler wakes waiting executions when their resume time is due.
//
// Timers are only an optimisation: the durable state is the execution's
// resume_at column. On start every waiting execution is re-armed, and a
// periodic sweep hands over anything due that a timer missed, along with
// running executions abandoned by a dead worker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Enqueue hands an execution to the workers.
type Enqueue func(executionID string)

type Config struct {
	// SweepSchedule is a cron spec, "@every 30s" by default.
	SweepSchedule string
	// StaleAfter is how long a running execution may go without progress before
	// the sweep hands it to another worker. It should exceed the lease TTL.
	StaleAfter time.Duration
	SweepLimit int
}

const (
	defaultSweepSchedule = "@every 30s"
	defaultStaleAfter    = 5 * time.Minute
	defaultSweepLimit    = 500
)

type Scheduler struct {
	executions persistence.ExecutionRepository
	enqueue    Enqueue
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
	config     Config

	mu         sync.Mutex
	timers     map[string]armed
	generation uint64
	cron       *cron.Cron
}

type armed struct {
	timer      clockwork.Timer
	generation uint64
}

func New(executions persistence.ExecutionRepository, enqueue Enqueue, clock clockwork.Clock, m *metrics.Metrics, logger *slog.Logger, config Config) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if m == nil {
		m = metrics.NewNop()
	}

	if config.SweepSchedule == "" {
		config.SweepSchedule = defaultSweepSchedule
	}

	if config.StaleAfter <= 0 {
		config.StaleAfter = defaultStaleAfter
	}

	if config.SweepLimit <= 0 {
		config.SweepLimit = defaultSweepLimit
	}

	return &Scheduler{
		executions: executions,
		enqueue:    enqueue,
		clock:      clock,
		metrics:    m,
		logger:     logger.With("module", "scheduler"),
		config:     config,
		timers:     make(map[string]armed),
	}
}

// Start re-arms every waiting execution and starts the periodic sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := cron.ParseStandard(s.config.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule '%s': %w", s.config.SweepSchedule, err)
	}

	n, err := s.Reload(ctx)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Starting scheduler", "rearmed", n, "sweep", s.config.SweepSchedule)

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err = c.AddFunc(s.config.SweepSchedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()

	return nil
}

// Reload arms a timer for every execution waiting in storage.
func (s *Scheduler) Reload(ctx context.Context) (int, error) {
	waiting, err := s.executions.Waiting(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load waiting executions: %w", err)
	}

	for _, w := range waiting {
		s.Schedule(w.ID, w.ResumeAt)
	}

	return len(waiting), nil
}

// Schedule arms, or re-arms, the timer of an execution. A time in the past
// hands the execution to the workers right away.
func (s *Scheduler) Schedule(executionID string, at time.Time) {
	delay := at.Sub(s.clock.Now())

	s.mu.Lock()

	if existing, ok := s.timers[executionID]; ok {
		existing.timer.Stop()
		delete(s.timers, executionID)
	}

	if delay <= 0 {
		s.metrics.ArmedTimers.Set(float64(len(s.timers)))
		s.mu.Unlock()

		s.metrics.SchedulerWakeups.WithLabelValues("timer").Inc()

		go s.enqueue(executionID)

		return
	}

	s.generation++
	generation := s.generation

	s.timers[executionID] = armed{
		timer: s.clock.AfterFunc(delay, func() {
			s.fire(executionID, generation)
		}),
		generation: generation,
	}
	s.metrics.ArmedTimers.Set(float64(len(s.timers)))
	s.mu.Unlock()
}

func (s *Scheduler) fire(executionID string, generation uint64) {
	s.mu.Lock()

	current, ok := s.timers[executionID]
	if !ok || current.generation != generation {
		// cancelled or re-armed while firing
		s.mu.Unlock()

		return
	}

	delete(s.timers, executionID)
	s.metrics.ArmedTimers.Set(float64(len(s.timers)))
	s.mu.Unlock()

	s.metrics.SchedulerWakeups.WithLabelValues("timer").Inc()
	s.enqueue(executionID)
}

// Cancel disarms the timer of an execution.
func (s *Scheduler) Cancel(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[executionID]; ok {
		existing.timer.Stop()
		delete(s.timers, executionID)
		s.metrics.ArmedTimers.Set(float64(len(s.timers)))
	}
}

// Armed reports whether a timer is pending for the execution.
func (s *Scheduler) Armed(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[executionID]

	return ok
}

// Sweep enqueues due waiting executions and stale running ones.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()

	due, err := s.executions.Due(ctx, persistence.DueQuery{
		Now:         now,
		StaleBefore: now.Add(-s.config.StaleAfter),
		Limit:       s.config.SweepLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query due executions: %w", err)
	}

	for _, id := range due {
		s.Cancel(id)
		s.metrics.SchedulerWakeups.WithLabelValues("sweep").Inc()
		s.enqueue(id)
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "sweep handed over executions", "count", len(due))
	}

	return len(due), nil
}

// Stop halts the sweep and disarms all timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}

	s.metrics.ArmedTimers.Set(0)
}
