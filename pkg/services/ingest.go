package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/cartflow/pkg/eventbus"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Ingest publishes domain events onto the bus for the workers to match.
type Ingest struct {
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewIngest(publisher eventbus.EventPublisher, logger *slog.Logger) *Ingest {
	return &Ingest{
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With("module", "ingest_service"),
	}
}

// Publish fills a missing id and occurrence time, validates the event and
// publishes it keyed by subject, so one subject's events keep their order.
func (s *Ingest) Publish(ctx context.Context, event *events.DomainEvent) (*events.DomainEvent, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now().UTC()
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, event.Subject.Key(), *event); err != nil {
		return nil, fmt.Errorf("failed to publish domain event: %w", err)
	}

	s.logger.InfoContext(ctx, "domain event accepted", "event_id", event.ID, "event_type", event.EventType)

	return event, nil
}
