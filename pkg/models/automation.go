// Package models defines the core domain models for marketing automation graphs
package models

import "time"

// Automation is a saved workflow graph that reacts to a domain event.
type Automation struct {
	ID          string `json:"id"`
	Name        string `json:"name"                   validate:"required,min=3"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	IsDraft     bool   `json:"is_draft"`
	Graph       *Graph `json:"graph"                  validate:"required"`

	// Version increases on every save that changes the graph. Executions
	// reference the snapshot taken at this version.
	Version int `json:"version"`

	TotalExecutions int64 `json:"total_executions"`
	SuccessCount    int64 `json:"success_count"`
	FailureCount    int64 `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runnable reports whether the matcher may start new executions for the automation.
func (a *Automation) Runnable() bool {
	return a.IsActive && !a.IsDraft
}

// GraphSnapshot is the immutable copy of an automation graph at a version.
type GraphSnapshot struct {
	AutomationID string    `json:"automation_id"`
	Version      int       `json:"version"`
	Graph        *Graph    `json:"graph"`
	CreatedAt    time.Time `json:"created_at"`
}

// CounterDelta is applied atomically to the automation audit counters.
type CounterDelta struct {
	Total   int64
	Success int64
	Failure int64
}

// MessageTemplate is a stored email or SMS template referenced by actions.
type MessageTemplate struct {
	ID        string    `json:"id"         validate:"required"`
	Channel   Channel   `json:"channel"    validate:"required,oneof=email sms"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"       validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)
