package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/cartflow/pkg/channels/gochannel"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	bus := NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DomainEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.DomainEvent, 1)

	require.NoError(t, bus.Handle(events.DomainEventReceived, func(_ context.Context, event any) error {
		received <- event.(*events.DomainEvent)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.DomainEvent{
		ID:        "evt-1",
		EventType: models.EventCartAbandoned,
		Subject:   models.Subject{CartID: "cart-7"},
		Payload:   map[string]any{"cart_total": 42.5},
	}
	require.NoError(t, bus.Publish(ctx, sent.Subject.Key(), sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, models.EventCartAbandoned, got.EventType)
		assert.Equal(t, "cart-7", got.Subject.CartID)
		assert.InDelta(t, 42.5, got.Payload["cart_total"], 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("domain event was not delivered")
	}
}

func TestWatermillEventBus_LifecycleTopicIsSeparate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	completed := make(chan *events.ExecutionCompleted, 1)

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.ExecutionCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	exec := &models.Execution{ID: "exec-1", AutomationID: "auto-1"}
	require.NoError(t, bus.Publish(ctx, exec.ID, events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, exec, time.Now()),
		NodeID:    "end",
	}))

	select {
	case got := <-completed:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "end", got.NodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle event was not delivered")
	}
}
