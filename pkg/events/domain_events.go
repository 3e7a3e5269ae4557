package events

import (
	"errors"
	"time"

	"github.com/dukex/cartflow/pkg/models"
)

// ErrInvalidEventData is returned when a domain event cannot be matched.
var ErrInvalidEventData = errors.New("invalid event data")

// DomainEvent is a business event published by the ordering side of the
// shop: an order was created, a cart was abandoned, a customer registered.
// Payload carries the facts known at event time.
type DomainEvent struct {
	ID         string           `json:"id"          validate:"required"`
	EventType  models.EventType `json:"event_type"  validate:"required"`
	Subject    models.Subject   `json:"subject"`
	Payload    map[string]any   `json:"payload"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func (e DomainEvent) GetType() EventType {
	return DomainEventReceived
}

// Validate checks the fields the matcher relies on.
func (e *DomainEvent) Validate() error {
	switch {
	case e.ID == "":
		return errors.Join(ErrInvalidEventData, errors.New("id is required"))
	case e.EventType == "":
		return errors.Join(ErrInvalidEventData, errors.New("event_type is required"))
	case e.Subject.Key() == "":
		return errors.Join(ErrInvalidEventData, errors.New("subject needs a customer, order or cart id"))
	}

	return nil
}

// PayloadBool reads a boolean fact from the payload.
func (e *DomainEvent) PayloadBool(key string) (bool, bool) {
	value, ok := e.Payload[key].(bool)

	return value, ok
}

// PayloadInt reads an integer fact from the payload.
func (e *DomainEvent) PayloadInt(key string) (int, bool) {
	switch v := e.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
