package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/cartflow/pkg/cmd"
	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/log"
	"github.com/dukex/cartflow/pkg/otelhelper"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func NewRunCommand() *cli.Command {
	retry := engine.DefaultRetryPolicy()

	return &cli.Command{
		Name:  "run",
		Usage: "Start the worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file path or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "lease-url",
				Usage:   "Execution lease backend (memory, redis://..., postgres)",
				Value:   "memory",
				Sources: cli.EnvVars("LEASE_URL"),
			},
			&cli.DurationFlag{
				Name:    "lease-ttl",
				Usage:   "How long an execution lease lasts without renewal",
				Value:   engine.DefaultLeaseTTL,
				Sources: cli.EnvVars("LEASE_TTL"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of executions advanced concurrently",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "match-concurrency",
				Usage:   "Automations evaluated concurrently per event",
				Value:   8,
				Sources: cli.EnvVars("MATCH_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron spec of the due and stale execution sweep",
				Value:   "@every 30s",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "retry-max-attempts",
				Usage:   "Attempts per action before the execution fails",
				Value:   retry.MaxAttempts,
				Sources: cli.EnvVars("RETRY_MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "retry-initial-interval",
				Usage:   "Delay before the first retry of an action",
				Value:   retry.InitialInterval,
				Sources: cli.EnvVars("RETRY_INITIAL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "retry-max-interval",
				Usage:   "Upper bound of the retry delay",
				Value:   retry.MaxInterval,
				Sources: cli.EnvVars("RETRY_MAX_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "deactivation-policy",
				Usage:   "In-flight executions of a deactivated automation (drain, cancel)",
				Value:   string(engine.PolicyDrain),
				Sources: cli.EnvVars("DEACTIVATION_POLICY"),
			},
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "Messaging and customer gateway, messages are only logged when empty",
				Sources: cli.EnvVars("GATEWAY_URL"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics and /livez, 0 disables it",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.StringFlag{
				Name:    "otel-endpoint",
				Usage:   "OTLP HTTP endpoint for traces, tracing is off when empty",
				Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("cartflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Cartflow Worker")

			policy, err := engine.ParseDeactivationPolicy(command.String("deactivation-policy"))
			if err != nil {
				return err
			}

			tracer := otelhelper.NoopTracer()

			if command.String("otel-endpoint") != "" {
				t, shutdown, err := otelhelper.NewTracer(ctx, "cartflow-worker")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()

				tracer = t
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.Background()); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "cartflow-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			clock := clockwork.NewRealClock()

			leaseURL := command.String("lease-url")

			leases, err := cmd.NewLeaseManager(leaseURL, persistence, clock)
			if err != nil {
				return err
			}

			if !cmd.SharedLeases(leaseURL) {
				logger.WarnContext(ctx, "Memory leases only exclude writers in this process; run a single worker", "lease_url", leaseURL)
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			worker := NewWorker(
				Options{
					WorkerID:         workerID,
					Workers:          command.Int("workers"),
					MatchConcurrency: command.Int("match-concurrency"),
					LeaseTTL:         command.Duration("lease-ttl"),
					Retry: engine.RetryPolicy{
						MaxAttempts:     command.Int("retry-max-attempts"),
						InitialInterval: command.Duration("retry-initial-interval"),
						MaxInterval:     command.Duration("retry-max-interval"),
						Multiplier:      retry.Multiplier,
						Jitter:          retry.Jitter,
					},
					DeactivationPolicy: policy,
					SweepSchedule:      command.String("sweep-schedule"),
					MetricsPort:        command.Int("metrics-port"),
				},
				persistence,
				eventBus,
				leases,
				cmd.NewGateway(command.String("gateway-url"), logger),
				clock,
				tracer,
				registry,
				logger,
			)

			return worker.Start(ctx)
		},
	}
}
