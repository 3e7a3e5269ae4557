package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Canceller stops the in-flight executions of an automation.
type Canceller interface {
	CancelInFlight(ctx context.Context, automationID, reason string) (*engine.CancelReport, error)
}

// Automation implements the editor and admin operations on automations.
type Automation struct {
	persistence persistence.Persistence
	conditions  *conditions.Registry
	canceller   Canceller
	validate    *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewAutomation creates a new automation service. A nil registry uses the
// built-in condition types; a nil canceller disables CancelExecutions.
func NewAutomation(p persistence.Persistence, registry *conditions.Registry, canceller Canceller, logger *slog.Logger) *Automation {
	if registry == nil {
		registry = conditions.Default()
	}

	return &Automation{
		persistence: p,
		conditions:  registry,
		canceller:   canceller,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("module", "automation_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *Automation) List(ctx context.Context) ([]*models.Automation, error) {
	automations, err := s.persistence.AutomationRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	return automations, nil
}

func (s *Automation) FetchByID(ctx context.Context, id string) (*models.Automation, error) {
	return s.persistence.AutomationRepository().ByID(ctx, id)
}

// Validate checks a graph without saving it.
func (s *Automation) Validate(g *models.Graph) graph.ValidationResult {
	return graph.ValidateWith(g, s.conditions)
}

// Create stores a new automation as an inactive draft at version 1.
func (s *Automation) Create(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	if err := s.check("Create", automation); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	automation.ID = uuid.New().String()
	automation.Version = 1
	automation.IsActive = false
	automation.IsDraft = true
	automation.TotalExecutions, automation.SuccessCount, automation.FailureCount = 0, 0, 0
	automation.CreatedAt = now
	automation.UpdatedAt = now

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}

	s.logger.InfoContext(ctx, "automation created", "automation_id", automation.ID)

	return automation, nil
}

// Update replaces name, description and graph. A changed graph gets the next
// version; executions already started keep the snapshot of their version.
// An active automation only accepts a valid graph.
func (s *Automation) Update(ctx context.Context, id string, automation *models.Automation) (*models.Automation, error) {
	if err := s.check("Update", automation); err != nil {
		return nil, err
	}

	existing, err := s.persistence.AutomationRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Name = automation.Name
	updated.Description = automation.Description
	updated.UpdatedAt = s.clock.Now().UTC()

	if !sameGraph(existing.Graph, automation.Graph) {
		if existing.Runnable() {
			if result := s.Validate(automation.Graph); !result.Valid() {
				return nil, &ValidationError{Op: "Update", Violations: result.Violations}
			}
		}

		updated.Graph = automation.Graph
		updated.Version = existing.Version + 1
	}

	if err := s.persistence.AutomationRepository().Save(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update automation: %w", err)
	}

	s.logger.InfoContext(ctx, "automation updated", "automation_id", id, "version", updated.Version)

	return &updated, nil
}

// Activate validates the graph and lets the matcher start executions for it.
func (s *Automation) Activate(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.AutomationRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if result := s.Validate(automation.Graph); !result.Valid() {
		return nil, &ValidationError{Op: "Activate", Violations: result.Violations}
	}

	automation.IsActive = true
	automation.IsDraft = false
	automation.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to activate automation: %w", err)
	}

	s.logger.InfoContext(ctx, "automation activated", "automation_id", id, "version", automation.Version)

	return automation, nil
}

// Deactivate stops new executions. In-flight executions follow the engine's deactivation policy.
func (s *Automation) Deactivate(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.AutomationRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	automation.IsActive = false
	automation.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to deactivate automation: %w", err)
	}

	s.logger.InfoContext(ctx, "automation deactivated", "automation_id", id)

	return automation, nil
}

// Delete removes an automation no execution ever referenced. Others can
// only be deactivated; Delete returns persistence.ErrAutomationInUse for them.
func (s *Automation) Delete(ctx context.Context, id string) error {
	if _, err := s.persistence.AutomationRepository().ByID(ctx, id); err != nil {
		return err
	}

	count, err := s.persistence.ExecutionRepository().CountByAutomation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count executions: %w", err)
	}

	if count > 0 {
		return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationInUse)
	}

	if err := s.persistence.AutomationRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}

	s.logger.InfoContext(ctx, "automation deleted", "automation_id", id)

	return nil
}

// CancelExecutions cancels every running or waiting execution of the automation.
func (s *Automation) CancelExecutions(ctx context.Context, id, reason string) (*engine.CancelReport, error) {
	if _, err := s.persistence.AutomationRepository().ByID(ctx, id); err != nil {
		return nil, err
	}

	if s.canceller == nil {
		return nil, ErrCancellationUnavailable
	}

	if reason == "" {
		reason = "cancelled by operator"
	}

	return s.canceller.CancelInFlight(ctx, id, reason)
}

// Executions lists the executions of an automation, optionally filtered by status.
func (s *Automation) Executions(ctx context.Context, id string, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	if _, err := s.persistence.AutomationRepository().ByID(ctx, id); err != nil {
		return nil, err
	}

	executions, err := s.persistence.ExecutionRepository().ListByAutomation(ctx, id, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Execution returns one execution with its step log.
func (s *Automation) Execution(ctx context.Context, id string) (*models.Execution, error) {
	return s.persistence.ExecutionRepository().ByID(ctx, id)
}

func (s *Automation) check(op string, automation *models.Automation) error {
	if automation == nil {
		return ErrAutomationNil
	}

	if automation.Graph == nil {
		return ErrGraphRequired
	}

	if err := s.validate.Struct(automation); err != nil {
		return NewValidationError(op, "INVALID_AUTOMATION", err.Error(), ErrInvalidRequest)
	}

	return nil
}

// sameGraph compares graphs by their stored form, so a graph read back from
// storage equals the one it was saved from.
func sameGraph(a, b *models.Graph) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)

	return errA == nil && errB == nil && bytes.Equal(x, y)
}
