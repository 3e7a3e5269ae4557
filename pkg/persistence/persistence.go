// Package persistence provides the storage abstraction for automations,
// graph snapshots, executions and their step logs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/cartflow/pkg/models"
)

type Persistence interface {
	AutomationRepository() AutomationRepository
	ExecutionRepository() ExecutionRepository
	TemplateRepository() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores automations and their immutable graph snapshots.
type AutomationRepository interface {
	List(ctx context.Context) ([]*models.Automation, error)
	// Active returns automations that are active and not drafts.
	Active(ctx context.Context) ([]*models.Automation, error)
	ByID(ctx context.Context, id string) (*models.Automation, error)
	Save(ctx context.Context, automation *models.Automation) error
	// Delete removes an automation no execution references, or returns
	// ErrAutomationInUse. Graph snapshots are kept.
	Delete(ctx context.Context, id string) error
	IncrementCounters(ctx context.Context, id string, delta models.CounterDelta) error

	// SaveSnapshot stores the graph of a version. Saving an existing version is a no-op.
	SaveSnapshot(ctx context.Context, snapshot *models.GraphSnapshot) error
	Snapshot(ctx context.Context, automationID string, version int) (*models.GraphSnapshot, error)
}

// ScheduledExecution is a parked execution and when it should wake up.
type ScheduledExecution struct {
	ID       string
	ResumeAt time.Time
}

// DueQuery selects executions the scheduler should hand to workers.
type DueQuery struct {
	// Now selects waiting executions with resume_at <= Now.
	Now time.Time
	// StaleBefore selects running executions not updated since, left behind by a dead worker.
	StaleBefore time.Time
	Limit       int
}

// ExecutionRepository stores executions. Only the engine writes to it after creation.
type ExecutionRepository interface {
	// Create stores a new execution unless one with the same dedupe key exists,
	// in which case it returns ErrDuplicateExecution.
	Create(ctx context.Context, execution *models.Execution) error
	// ByID returns the execution including its step log.
	ByID(ctx context.Context, id string) (*models.Execution, error)
	// AppendStep adds entry to the step log, assigning its sequence number.
	AppendStep(ctx context.Context, executionID string, entry *models.StepLogEntry) error
	// Update writes the state fields of execution. The step log is untouched.
	// A stored completed, failed or cancelled execution is never changed:
	// Update returns ErrExecutionFinished instead.
	Update(ctx context.Context, execution *models.Execution) error
	// ListByAutomation returns executions without step logs, newest first.
	ListByAutomation(ctx context.Context, automationID string, statuses ...models.ExecutionStatus) ([]*models.Execution, error)
	CountByAutomation(ctx context.Context, automationID string) (int, error)
	// Waiting returns every execution parked in WaitingDelay.
	Waiting(ctx context.Context) ([]ScheduledExecution, error)
	Due(ctx context.Context, query DueQuery) ([]string, error)
}

type TemplateRepository interface {
	List(ctx context.Context) ([]*models.MessageTemplate, error)
	ByID(ctx context.Context, id string) (*models.MessageTemplate, error)
	Save(ctx context.Context, template *models.MessageTemplate) error
}
