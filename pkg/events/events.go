// Package events defines the messages carried on the event bus: inbound
// domain events and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	DomainTopic    = "cartflow.domain-events" // business events consumed by the matcher
	LifecycleTopic = "cartflow.executions"    // execution lifecycle for reporting
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	DomainEventReceived EventType = "domain.event"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ActionDispatchedEvent   EventType = "action.dispatched"
)

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType EventType) string {
	if eventType == DomainEventReceived {
		return DomainTopic
	}

	return LifecycleTopic
}

// New returns an empty value of the event type for decoding.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case DomainEventReceived:
		return &DomainEvent{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionWaitingEvent:
		return &ExecutionWaiting{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}, true
	case ActionDispatchedEvent:
		return &ActionDispatched{}, true
	default:
		return nil, false
	}
}

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	AutomationID string    `json:"automation_id"`
	ExecutionID  string    `json:"execution_id"`
	WorkerID     string    `json:"worker_id,omitempty"`
}

// NewBaseEvent fills the common fields for a lifecycle event of exec.
func NewBaseEvent(eventType EventType, exec *models.Execution, now time.Time) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    now,
		AutomationID: exec.AutomationID,
		ExecutionID:  exec.ID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	GraphVersion  int              `json:"graph_version"`
	TriggerNodeID string           `json:"trigger_node_id"`
	EventID       string           `json:"event_id"`
	EventType     models.EventType `json:"event_type"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	NodeID   string    `json:"node_id"`
	ResumeAt time.Time `json:"resume_at"`
	Retry    bool      `json:"retry"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionCompleted struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	NodeID  string `json:"node_id"`
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ActionDispatched struct {
	BaseEvent

	NodeID     string            `json:"node_id"`
	ActionKind models.ActionKind `json:"action_kind"`
	MessageID  string            `json:"message_id,omitempty"`
}

func (e ActionDispatched) GetType() EventType {
	return ActionDispatchedEvent
}
