package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
)

// AutomationRepository handles automation and snapshot files.
type AutomationRepository struct {
	root       string
	executions *ExecutionRepository
	mu         sync.RWMutex
}

func NewAutomationRepository(root string, executions *ExecutionRepository) *AutomationRepository {
	return &AutomationRepository{root: root, executions: executions}
}

func (r *AutomationRepository) path(id string) string {
	return filepath.Join(r.root, automationsDir, id+".json")
}

func (r *AutomationRepository) List(_ context.Context) ([]*models.Automation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var automations []*models.Automation

	err := readAll(filepath.Join(r.root, automationsDir), func(data []byte) error {
		var a models.Automation
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}

		automations = append(automations, &a)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	slices.SortFunc(automations, func(a, b *models.Automation) int {
		return strings.Compare(a.ID, b.ID)
	})

	return automations, nil
}

func (r *AutomationRepository) Active(ctx context.Context) ([]*models.Automation, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(all, func(a *models.Automation) bool { return !a.Runnable() }), nil
}

func (r *AutomationRepository) ByID(_ context.Context, id string) (*models.Automation, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewAutomationError("ByID", id, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.read(id)
}

func (r *AutomationRepository) read(id string) (*models.Automation, error) {
	var a models.Automation
	if err := readJSON(r.path(id), &a, persistence.ErrAutomationNotFound); err != nil {
		return nil, persistence.NewAutomationError("ByID", id, err)
	}

	return &a, nil
}

func (r *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	if err := validateID(automation.ID); err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = time.Now().UTC()
	}

	// Counters only move through IncrementCounters.
	stored := *automation
	if existing, err := r.read(automation.ID); err == nil {
		stored.TotalExecutions = existing.TotalExecutions
		stored.SuccessCount = existing.SuccessCount
		stored.FailureCount = existing.FailureCount
	}

	if err := writeJSON(r.path(automation.ID), &stored); err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	return nil
}

func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	count, err := r.executions.CountByAutomation(ctx, id)
	if err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	if count > 0 {
		return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationInUse)
	}

	if err := os.Remove(r.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationNotFound)
		}

		return persistence.NewAutomationError("Delete", id, err)
	}

	return nil
}

func (r *AutomationRepository) IncrementCounters(_ context.Context, id string, delta models.CounterDelta) error {
	if err := validateID(id); err != nil {
		return persistence.NewAutomationError("IncrementCounters", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.read(id)
	if err != nil {
		return err
	}

	a.TotalExecutions += delta.Total
	a.SuccessCount += delta.Success
	a.FailureCount += delta.Failure

	if err := writeJSON(r.path(id), a); err != nil {
		return persistence.NewAutomationError("IncrementCounters", id, err)
	}

	return nil
}

func (r *AutomationRepository) snapshotPath(automationID string, version int) string {
	return filepath.Join(r.root, snapshotsDir, automationID, fmt.Sprintf("v%d.json", version))
}

func (r *AutomationRepository) SaveSnapshot(_ context.Context, snapshot *models.GraphSnapshot) error {
	if err := validateID(snapshot.AutomationID); err != nil {
		return persistence.NewAutomationError("SaveSnapshot", snapshot.AutomationID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.snapshotPath(snapshot.AutomationID, snapshot.Version)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	if err := writeJSON(path, snapshot); err != nil {
		return persistence.NewAutomationError("SaveSnapshot", snapshot.AutomationID, err)
	}

	return nil
}

func (r *AutomationRepository) Snapshot(_ context.Context, automationID string, version int) (*models.GraphSnapshot, error) {
	if err := validateID(automationID); err != nil {
		return nil, persistence.NewAutomationError("Snapshot", automationID, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var snapshot models.GraphSnapshot
	if err := readJSON(r.snapshotPath(automationID, version), &snapshot, persistence.ErrSnapshotNotFound); err != nil {
		return nil, persistence.NewAutomationError("Snapshot", automationID, err)
	}

	return &snapshot, nil
}
