package models

import (
	"strings"
	"time"
)

// ExecutionStatus is the state of an execution.
type ExecutionStatus string

const (
	ExecutionRunning      ExecutionStatus = "running"
	ExecutionWaitingDelay ExecutionStatus = "waiting_delay"
	ExecutionCompleted    ExecutionStatus = "completed"
	ExecutionFailed       ExecutionStatus = "failed"
	ExecutionCancelled    ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Subject is the customer/order reference an execution is bound to.
type Subject struct {
	CustomerID string `json:"customer_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	CartID     string `json:"cart_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Key identifies the subject for deduplication. The customer wins over order and cart.
func (s Subject) Key() string {
	switch {
	case s.CustomerID != "":
		return "customer:" + s.CustomerID
	case s.OrderID != "":
		return "order:" + s.OrderID
	case s.CartID != "":
		return "cart:" + s.CartID
	default:
		return ""
	}
}

// Execution is one durable run of an automation graph for a triggering event and subject.
type Execution struct {
	ID            string          `json:"id"`
	AutomationID  string          `json:"automation_id"`
	GraphVersion  int             `json:"graph_version"`
	TriggerNodeID string          `json:"trigger_node_id"`
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Subject       Subject         `json:"subject"`
	Payload       map[string]any  `json:"payload,omitempty"` // facts carried by the triggering event
	CurrentNodeID string          `json:"current_node_id"`
	Status        ExecutionStatus `json:"status"`
	ResumeAt      *time.Time      `json:"resume_at,omitempty"`
	DedupeKey     string          `json:"dedupe_key"`
	Attempt       int             `json:"attempt"` // failed attempts on the current node
	LastError     string          `json:"last_error,omitempty"`
	Steps         []StepLogEntry  `json:"steps,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// DedupeKey builds the idempotency key for execution creation.
func DedupeKey(automationID, eventID string, subject Subject) string {
	return strings.Join([]string{automationID, eventID, subject.Key()}, "|")
}

// LastStepFor returns the most recent step log entry recorded for nodeID.
func (e *Execution) LastStepFor(nodeID string) (StepLogEntry, bool) {
	for i := len(e.Steps) - 1; i >= 0; i-- {
		if e.Steps[i].NodeID == nodeID {
			return e.Steps[i], true
		}
	}

	return StepLogEntry{}, false
}

// StepOutcome records what happened when an execution visited a node.
type StepOutcome string

const (
	StepTriggered      StepOutcome = "triggered"
	StepWaiting        StepOutcome = "waiting"
	StepDelayElapsed   StepOutcome = "delay_elapsed"
	StepBranched       StepOutcome = "branched"
	StepDispatched     StepOutcome = "dispatched"
	StepRetryScheduled StepOutcome = "retry_scheduled"
	StepFailed         StepOutcome = "failed"
	StepCompleted      StepOutcome = "completed"
	StepCancelled      StepOutcome = "cancelled"
)

// StepLogEntry is an append-only record of a step.
type StepLogEntry struct {
	Sequence  int            `json:"sequence"`
	NodeID    string         `json:"node_id"`
	NodeKind  NodeKind       `json:"node_kind"`
	Outcome   StepOutcome    `json:"outcome"`
	Attempt   int            `json:"attempt,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
