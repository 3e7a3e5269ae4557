package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
)

// ExecutionRepository stores one JSON file per execution, step log included.
// Dedupe keys are claimed with exclusive marker files.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (r *ExecutionRepository) path(id string) string {
	return filepath.Join(r.root, executionsDir, id+".json")
}

func (r *ExecutionRepository) dedupePath(key string) string {
	sum := sha256.Sum256([]byte(key))

	return filepath.Join(r.root, dedupeDir, hex.EncodeToString(sum[:]))
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	marker, err := os.OpenFile(r.dedupePath(execution.DedupeKey), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			existing, _ := os.ReadFile(r.dedupePath(execution.DedupeKey)) // #nosec G304 -- hashed name

			return persistence.NewDuplicateExecutionError(string(existing), execution.DedupeKey)
		}

		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to claim dedupe key: %w", err))
	}

	_, writeErr := marker.WriteString(execution.ID)
	closeErr := marker.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(r.dedupePath(execution.DedupeKey))

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if err := writeJSON(r.path(execution.ID), execution); err != nil {
		_ = os.Remove(r.dedupePath(execution.DedupeKey))

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read(id)
}

func (r *ExecutionRepository) read(id string) (*models.Execution, error) {
	var execution models.Execution
	if err := readJSON(r.path(id), &execution, persistence.ErrExecutionNotFound); err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) AppendStep(_ context.Context, executionID string, entry *models.StepLogEntry) error {
	if err := validateID(executionID); err != nil {
		return persistence.NewExecutionError("AppendStep", executionID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.read(executionID)
	if err != nil {
		return err
	}

	entry.Sequence = len(execution.Steps) + 1
	execution.Steps = append(execution.Steps, *entry)

	if err := writeJSON(r.path(executionID), execution); err != nil {
		return persistence.NewExecutionError("AppendStep", executionID, err)
	}

	return nil
}

func (r *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.read(execution.ID)
	if err != nil {
		return err
	}

	if stored.Status.Terminal() {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionFinished)
	}

	stored.CurrentNodeID = execution.CurrentNodeID
	stored.Status = execution.Status
	stored.ResumeAt = execution.ResumeAt
	stored.Attempt = execution.Attempt
	stored.LastError = execution.LastError
	stored.UpdatedAt = execution.UpdatedAt
	stored.CompletedAt = execution.CompletedAt

	if err := writeJSON(r.path(execution.ID), stored); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) all() ([]*models.Execution, error) {
	var executions []*models.Execution

	err := readAll(filepath.Join(r.root, executionsDir), func(data []byte) error {
		var e models.Execution
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}

		executions = append(executions, &e)

		return nil
	})

	return executions, err
}

func (r *ExecutionRepository) ListByAutomation(_ context.Context, automationID string, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	var out []*models.Execution

	for _, e := range all {
		if e.AutomationID != automationID {
			continue
		}

		if len(statuses) > 0 && !slices.Contains(statuses, e.Status) {
			continue
		}

		e.Steps = nil
		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b *models.Execution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return out, nil
}

func (r *ExecutionRepository) CountByAutomation(ctx context.Context, automationID string) (int, error) {
	executions, err := r.ListByAutomation(ctx, automationID)
	if err != nil {
		return 0, err
	}

	return len(executions), nil
}

func (r *ExecutionRepository) Waiting(_ context.Context) ([]persistence.ScheduledExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting executions: %w", err)
	}

	var out []persistence.ScheduledExecution

	for _, e := range all {
		if e.Status == models.ExecutionWaitingDelay && e.ResumeAt != nil {
			out = append(out, persistence.ScheduledExecution{ID: e.ID, ResumeAt: *e.ResumeAt})
		}
	}

	slices.SortFunc(out, func(a, b persistence.ScheduledExecution) int {
		return a.ResumeAt.Compare(b.ResumeAt)
	})

	return out, nil
}

func (r *ExecutionRepository) Due(_ context.Context, query persistence.DueQuery) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list due executions: %w", err)
	}

	type due struct {
		id string
		at time.Time
	}

	var candidates []due

	for _, e := range all {
		switch {
		case e.Status == models.ExecutionWaitingDelay && e.ResumeAt != nil && !e.ResumeAt.After(query.Now):
			candidates = append(candidates, due{e.ID, *e.ResumeAt})
		case e.Status == models.ExecutionRunning && !query.StaleBefore.IsZero() && e.UpdatedAt.Before(query.StaleBefore):
			candidates = append(candidates, due{e.ID, e.UpdatedAt})
		}
	}

	slices.SortFunc(candidates, func(a, b due) int { return a.at.Compare(b.at) })

	if query.Limit > 0 && len(candidates) > query.Limit {
		candidates = candidates[:query.Limit]
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}

	return ids, nil
}
