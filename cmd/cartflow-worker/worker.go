package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/cartflow/pkg/cmd"
	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/eventbus"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/lease"
	"github.com/dukex/cartflow/pkg/matcher"
	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/scheduler"
	"github.com/dukex/cartflow/pkg/worker"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	WorkerID           string
	Workers            int
	QueueSize          int
	MatchConcurrency   int
	LeaseTTL           time.Duration
	Retry              engine.RetryPolicy
	DeactivationPolicy engine.DeactivationPolicy
	SweepSchedule      string
	MetricsPort        int
}

// starter sends running executions to the pool and debounced ones to the scheduler.
type starter struct {
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
}

func (s starter) Enqueue(executionID string) {
	s.pool.Enqueue(executionID)
}

func (s starter) Schedule(executionID string, at time.Time) {
	s.scheduler.Schedule(executionID, at)
}

type Worker struct {
	options   Options
	logger    *slog.Logger
	eventBus  eventbus.EventBus
	registry  *prometheus.Registry
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	matcher   *matcher.Matcher
}

func NewWorker(
	options Options,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	leases lease.Manager,
	gateway cmd.Gateway,
	clock clockwork.Clock,
	tracer trace.Tracer,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Worker {
	m := metrics.New(registry)

	pool := worker.NewPool(options.Workers, options.QueueSize, logger)

	sched := scheduler.New(p.ExecutionRepository(), pool.Enqueue, clock, m, logger, scheduler.Config{
		SweepSchedule: options.SweepSchedule,
		StaleAfter:    2 * options.LeaseTTL,
	})

	eng := engine.New(engine.Dependencies{
		Automations: p.AutomationRepository(),
		Executions:  p.ExecutionRepository(),
		Leases:      leases,
		Dispatcher:  dispatcher.New(p.TemplateRepository(), gateway, gateway, gateway, logger),
		Facts:       gateway,
		Timers:      sched,
		Publisher:   eventBus,
		Clock:       clock,
		Tracer:      tracer,
		Metrics:     m,
		Logger:      logger,
	}, engine.Config{
		WorkerID:           options.WorkerID,
		LeaseTTL:           options.LeaseTTL,
		Retry:              options.Retry,
		DeactivationPolicy: options.DeactivationPolicy,
	})

	match := matcher.New(matcher.Dependencies{
		Automations: p.AutomationRepository(),
		Executions:  p.ExecutionRepository(),
		Starter:     starter{pool: pool, scheduler: sched},
		Publisher:   eventBus,
		Clock:       clock,
		Tracer:      tracer,
		Metrics:     m,
		Logger:      logger,
	}, options.MatchConcurrency)

	return &Worker{
		options:   options,
		logger:    logger,
		eventBus:  eventBus,
		registry:  registry,
		pool:      pool,
		scheduler: sched,
		engine:    eng,
		matcher:   match,
	}
}

// Start runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "workers", w.options.Workers)

	if err := w.eventBus.Handle(events.DomainEventReceived, w.handleDomainEvent); err != nil {
		return fmt.Errorf("failed to register domain event handler: %w", err)
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer w.scheduler.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.pool.Run(ctx, w.engine.Resume)

		return nil
	})

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if w.options.MetricsPort > 0 {
		g.Go(func() error {
			return w.serveMetrics(ctx)
		})
	}

	err := g.Wait()

	w.logger.Info("Worker stopped", "pending", w.pool.Pending())

	return err
}

// handleDomainEvent matches an incoming event. A failed match is redelivered;
// executions already created for it are deduplicated.
func (w *Worker) handleDomainEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		return nil
	}

	report, err := w.matcher.Match(ctx, domainEvent)
	if errors.Is(err, events.ErrInvalidEventData) {
		w.logger.WarnContext(ctx, "Dropping invalid domain event", "event_id", domainEvent.ID, "error", err)

		return nil
	}

	if err != nil {
		return err
	}

	w.logger.DebugContext(ctx, "Domain event matched",
		"event_id", domainEvent.ID,
		"created", len(report.Created),
		"duplicates", len(report.Duplicates),
	)

	return nil
}

func (w *Worker) serveMetrics(ctx context.Context) error {
	app := fiber.New()
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{})))

	return app.Listen(":"+strconv.Itoa(w.options.MetricsPort), fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	})
}
