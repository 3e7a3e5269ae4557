// Package web provides HTTP request and response types for the automation API.
package web

import (
	"time"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
)

// AutomationRequest is the body for creating or replacing an automation.
// The graph is given either in engine form or as an editor document.
type AutomationRequest struct {
	Name        string             `json:"name"             validate:"required,min=3"`
	Description string             `json:"description"`
	Graph       *models.Graph      `json:"graph,omitempty"  validate:"required_without=Editor"`
	Editor      *graph.EditorGraph `json:"editor,omitempty" validate:"required_without=Graph"`
}

// ValidateRequest is the body of a dry-run graph validation.
type ValidateRequest struct {
	Graph  *models.Graph      `json:"graph,omitempty"  validate:"required_without=Editor"`
	Editor *graph.EditorGraph `json:"editor,omitempty" validate:"required_without=Graph"`
}

// TemplateRequest is the body for saving a message template.
type TemplateRequest struct {
	Channel models.Channel `json:"channel" validate:"required,oneof=email sms"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"    validate:"required"`
}

// EventRequest is a domain event submitted for matching.
type EventRequest struct {
	ID         string           `json:"id"`
	EventType  models.EventType `json:"event_type"  validate:"required"`
	Subject    models.Subject   `json:"subject"`
	Payload    map[string]any   `json:"payload"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func (r EventRequest) toDomainEvent() *events.DomainEvent {
	return &events.DomainEvent{
		ID:         r.ID,
		EventType:  r.EventType,
		Subject:    r.Subject,
		Payload:    r.Payload,
		OccurredAt: r.OccurredAt,
	}
}

// ValidationResponse is returned by the dry-run validation endpoint.
type ValidationResponse struct {
	Valid      bool              `json:"valid"`
	Violations []graph.Violation `json:"violations"`
}

// EventAccepted acknowledges an ingested event.
type EventAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func resolveGraph(g *models.Graph, editor *graph.EditorGraph) (*models.Graph, error) {
	if editor != nil {
		return graph.FromEditor(*editor)
	}

	return g, nil
}
