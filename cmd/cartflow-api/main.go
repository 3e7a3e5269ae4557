package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/cartflow/pkg/cmd"
	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/log"
	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/otelhelper"
	"github.com/dukex/cartflow/pkg/services"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "cartflow-api",
		Usage:                 "Create and manage marketing automations",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewSeedCommand(),
		},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Usage:   "Execution lease backend shared with the workers (redis://..., postgres); memory disables cancel-executions",
				Value:   "memory",
				Sources: cli.EnvVars("LEASE_URL"),
			},
			&cli.DurationFlag{
				Name:    "lease-ttl",
				Usage:   "How long an execution lease lasts without renewal",
				Value:   engine.DefaultLeaseTTL,
				Sources: cli.EnvVars("LEASE_TTL"),
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

			logger := log.WithModule("cartflow-api")

			logger.InfoContext(ctx, "Initializing Cartflow API")

			if command.String("otel-endpoint") != "" {
				_, shutdown, err := otelhelper.NewTracer(ctx, "cartflow-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "cartflow-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			var canceller services.Canceller

			leaseURL := command.String("lease-url")
			if cmd.SharedLeases(leaseURL) {
				clock := clockwork.NewRealClock()

				leases, err := cmd.NewLeaseManager(leaseURL, persistence, clock)
				if err != nil {
					return err
				}

				// Cancelling from the API only needs leases and storage; timers of
				// cancelled executions are dropped by the workers when they fire.
				canceller = engine.New(engine.Dependencies{
					Automations: persistence.AutomationRepository(),
					Executions:  persistence.ExecutionRepository(),
					Leases:      leases,
					Publisher:   eventBus,
					Clock:       clock,
					Metrics:     metrics.New(registry),
					Logger:      logger,
				}, engine.Config{
					WorkerID: "api-" + uuid.New().String()[:8],
					LeaseTTL: command.Duration("lease-ttl"),
				})
			} else {
				logger.WarnContext(ctx, "Execution cancellation disabled: memory leases are not shared with workers", "lease_url", leaseURL)
			}

			api := NewAPI(logger, persistence, eventBus, canceller, registry)

			return api.Start(ctx, command.Int("port"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("cartflow-api failed", "error", err)
		os.Exit(1)
	}
}
