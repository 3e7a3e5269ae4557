package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/cmd"
	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/lease"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/otelhelper"
	"github.com/dukex/cartflow/pkg/persistence/file"
	"github.com/dukex/cartflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, g *models.Graph) (*Worker, *file.Persistence, *models.Automation) {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.TemplateRepository().Save(ctx, &models.MessageTemplate{
		ID: "vip-thankyou", Channel: models.ChannelEmail, Subject: "Thanks", Body: "Thank you",
	}))

	automation := testutil.CreateTestAutomation(testutil.WithGraph(g))
	require.NoError(t, store.AutomationRepository().Save(ctx, automation))

	bus, err := cmd.NewEventBus("gochannel", nil, "cartflow-worker-test", logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	clock := clockwork.NewRealClock()

	w := NewWorker(
		Options{
			WorkerID:      "worker-test",
			Workers:       2,
			LeaseTTL:      time.Minute,
			Retry:         engine.DefaultRetryPolicy(),
			SweepSchedule: "@every 1h",
		},
		store,
		bus,
		lease.NewMemoryManager(clock),
		cmd.NewGateway("", logger),
		clock,
		otelhelper.NoopTracer(),
		prometheus.NewRegistry(),
		logger,
	)

	return w, store, automation
}

func sendEmailGraph() *models.Graph {
	return &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("trigger", models.EventOrderCreated),
			testutil.EmailNode("vip", "vip-thankyou"),
		},
		Edges: []*models.Edge{testutil.Edge("trigger", "vip")},
	}
}

func TestWorker_HandleDomainEventCreatesExecution(t *testing.T) {
	w, store, automation := newTestWorker(t, sendEmailGraph())
	ctx := context.Background()

	event := testutil.FirstOrderEvent("evt-1", 75)

	require.NoError(t, w.handleDomainEvent(ctx, &event))
	require.NoError(t, w.handleDomainEvent(ctx, &event))

	executions, err := store.ExecutionRepository().ListByAutomation(ctx, automation.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, 1, w.pool.Pending())
}

func TestWorker_DropsInvalidDomainEvent(t *testing.T) {
	w, _, _ := newTestWorker(t, sendEmailGraph())

	event := testutil.FirstOrderEvent("", 75)

	require.NoError(t, w.handleDomainEvent(context.Background(), &event))
	assert.Equal(t, 0, w.pool.Pending())
}

func TestWorker_RunsEventToCompletion(t *testing.T) {
	w, store, automation := newTestWorker(t, sendEmailGraph())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- w.Start(ctx)
	}()

	event := testutil.FirstOrderEvent("evt-1", 75)

	// Publishing is repeated until the subscriber is up; matching is deduplicated.
	assert.Eventually(t, func() bool {
		_ = w.eventBus.Publish(ctx, event.Subject.Key(), event)

		executions, err := store.ExecutionRepository().ListByAutomation(ctx, automation.ID, models.ExecutionCompleted)

		return err == nil && len(executions) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	executions, err := store.ExecutionRepository().ListByAutomation(context.Background(), automation.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	stored, err := store.ExecutionRepository().ByID(context.Background(), executions[0].ID)
	require.NoError(t, err)

	outcomes := make([]models.StepOutcome, 0, len(stored.Steps))
	for _, step := range stored.Steps {
		outcomes = append(outcomes, step.Outcome)
	}

	assert.Contains(t, outcomes, models.StepDispatched)
}
