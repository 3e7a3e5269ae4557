package services

import (
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/mocks"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestIngest_Publish(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "customer:c-1", mock.MatchedBy(func(e events.DomainEvent) bool {
		return e.EventType == models.EventOrderCreated && e.ID != ""
	})).Return(nil).Once()

	service := NewIngest(bus, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

	event, err := service.Publish(t.Context(), &events.DomainEvent{
		EventType: models.EventOrderCreated,
		Subject:   models.Subject{CustomerID: "c-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
	bus.AssertExpectations(t)
}

func TestIngest_RejectsEventWithoutSubject(t *testing.T) {
	bus := &mocks.MockEventBus{}
	service := NewIngest(bus, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

	_, err := service.Publish(t.Context(), &events.DomainEvent{EventType: models.EventOrderCreated})
	require.ErrorIs(t, err, events.ErrInvalidEventData)
	assert.True(t, IsValidationError(err))
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
