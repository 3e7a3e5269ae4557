// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/google/uuid"
)

// TriggerNode creates a trigger node for eventType.
func TriggerNode(id string, eventType models.EventType, overrides ...func(*models.TriggerConfig)) *models.Node {
	cfg := &models.TriggerConfig{EventType: eventType}

	for _, override := range overrides {
		override(cfg)
	}

	return &models.Node{ID: id, Kind: models.NodeKindTrigger, Trigger: cfg}
}

// FirstOrderOnly restricts a trigger to first orders.
func FirstOrderOnly() func(*models.TriggerConfig) {
	return func(c *models.TriggerConfig) {
		first := true
		c.IsFirstOrder = &first
	}
}

func WaitMinutes(minutes int) func(*models.TriggerConfig) {
	return func(c *models.TriggerConfig) {
		c.WaitMinutes = minutes
	}
}

func DelayNode(id string, value int, unit models.DelayUnit) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindDelay, Delay: &models.DelayConfig{Value: value, Unit: unit}}
}

func ConditionNode(id string, conditionType models.ConditionType, operator models.Operator, value any) *models.Node {
	return &models.Node{
		ID:        id,
		Kind:      models.NodeKindCondition,
		Condition: &models.ConditionConfig{Type: conditionType, Operator: operator, Value: value},
	}
}

func EmailNode(id, templateID string) *models.Node {
	return &models.Node{
		ID:     id,
		Kind:   models.NodeKindAction,
		Action: &models.ActionConfig{Kind: models.ActionSendEmail, TemplateID: templateID},
	}
}

func ActionNode(id string, cfg models.ActionConfig) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindAction, Action: &cfg}
}

func EndNode(id string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindEnd}
}

func Edge(source, target string) *models.Edge {
	return &models.Edge{ID: source + "->" + target, Source: source, Target: target}
}

func LabeledEdge(source, target, label string) *models.Edge {
	return &models.Edge{ID: source + "->" + target, Source: source, Target: target, Label: label}
}

// FirstOrderThankYouGraph is trigger(order_created, first order) -> delay 1h ->
// order_value > 50 -> vip-thankyou / standard-thankyou.
func FirstOrderThankYouGraph() *models.Graph {
	return &models.Graph{
		Nodes: []*models.Node{
			TriggerNode("trigger", models.EventOrderCreated, FirstOrderOnly()),
			DelayNode("wait", 1, models.DelayUnitHours),
			ConditionNode("big-order", models.ConditionOrderValue, models.OperatorGreaterThan, 50),
			EmailNode("vip", "vip-thankyou"),
			EmailNode("standard", "standard-thankyou"),
		},
		Edges: []*models.Edge{
			Edge("trigger", "wait"),
			Edge("wait", "big-order"),
			LabeledEdge("big-order", "vip", models.LabelTrue),
			LabeledEdge("big-order", "standard", models.LabelFalse),
		},
	}
}

// CreateTestAutomation creates an active automation with default values that can be overridden.
func CreateTestAutomation(overrides ...func(*models.Automation)) *models.Automation {
	now := time.Now().UTC()
	automation := &models.Automation{
		ID:          uuid.New().String(),
		Name:        "First order thank you",
		Description: "Thanks first-time customers an hour after ordering",
		IsActive:    true,
		Graph:       FirstOrderThankYouGraph(),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

func WithGraph(g *models.Graph) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Graph = g
	}
}

func Inactive() func(*models.Automation) {
	return func(a *models.Automation) {
		a.IsActive = false
	}
}

func Draft() func(*models.Automation) {
	return func(a *models.Automation) {
		a.IsDraft = true
	}
}

// FirstOrderEvent is an order_created event for a first order worth total.
func FirstOrderEvent(eventID string, total float64) events.DomainEvent {
	return events.DomainEvent{
		ID:        eventID,
		EventType: models.EventOrderCreated,
		Subject:   models.Subject{CustomerID: "cust-1", OrderID: "order-" + eventID, Email: "ana@example.com", Name: "Ana"},
		Payload: map[string]any{
			"is_first_order": true,
			"order_total":    total,
			"item_count":     2,
			"customer_name":  "Ana",
		},
		OccurredAt: time.Now().UTC(),
	}
}
