package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
)

// AutomationRepository handles automation and graph snapshot persistence.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `id, name, description, is_active, is_draft, version, graph,
	total_executions, success_count, failure_count, created_at, updated_at`

func (r *AutomationRepository) List(ctx context.Context) ([]*models.Automation, error) {
	return r.query(ctx, `SELECT `+automationColumns+` FROM automations ORDER BY id`)
}

func (r *AutomationRepository) Active(ctx context.Context) ([]*models.Automation, error) {
	return r.query(ctx, `SELECT `+automationColumns+` FROM automations
		WHERE is_active = true AND is_draft = false ORDER BY id`)
}

func (r *AutomationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scan(rows)
		if err != nil {
			return nil, err
		}

		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate automations: %w", err)
	}

	return automations, nil
}

func (r *AutomationRepository) ByID(ctx context.Context, id string) (*models.Automation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = $1`, id)

	automation, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewAutomationError("ByID", id, persistence.ErrAutomationNotFound)
	}

	if err != nil {
		return nil, persistence.NewAutomationError("ByID", id, err)
	}

	return automation, nil
}

func (r *AutomationRepository) scan(row scanner) (*models.Automation, error) {
	var (
		automation models.Automation
		graphJSON  []byte
	)

	err := row.Scan(
		&automation.ID,
		&automation.Name,
		&automation.Description,
		&automation.IsActive,
		&automation.IsDraft,
		&automation.Version,
		&graphJSON,
		&automation.TotalExecutions,
		&automation.SuccessCount,
		&automation.FailureCount,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(graphJSON, &automation.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph of automation %s: %w", automation.ID, err)
	}

	return &automation, nil
}

// Save upserts the automation. Audit counters are owned by IncrementCounters and are not overwritten.
func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	graphJSON, err := json.Marshal(automation.Graph)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.ID, fmt.Errorf("failed to marshal graph: %w", err))
	}

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = time.Now().UTC()
	}

	if automation.UpdatedAt.IsZero() {
		automation.UpdatedAt = automation.CreatedAt
	}

	query := `
		INSERT INTO automations (id, name, description, is_active, is_draft, version, graph,
			total_executions, success_count, failure_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			is_draft = EXCLUDED.is_draft,
			version = EXCLUDED.version,
			graph = EXCLUDED.graph,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.Name,
		automation.Description,
		automation.IsActive,
		automation.IsDraft,
		automation.Version,
		graphJSON,
		automation.TotalExecutions,
		automation.SuccessCount,
		automation.FailureCount,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	return nil
}

func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM automations
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM executions WHERE automation_id = $1)`, id)
	if err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM automations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	if exists {
		return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationInUse)
	}

	return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationNotFound)
}

func (r *AutomationRepository) IncrementCounters(ctx context.Context, id string, delta models.CounterDelta) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE automations SET
			total_executions = total_executions + $2,
			success_count = success_count + $3,
			failure_count = failure_count + $4
		WHERE id = $1`, id, delta.Total, delta.Success, delta.Failure)
	if err != nil {
		return persistence.NewAutomationError("IncrementCounters", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewAutomationError("IncrementCounters", id, err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("IncrementCounters", id, persistence.ErrAutomationNotFound)
	}

	return nil
}

func (r *AutomationRepository) SaveSnapshot(ctx context.Context, snapshot *models.GraphSnapshot) error {
	graphJSON, err := json.Marshal(snapshot.Graph)
	if err != nil {
		return persistence.NewAutomationError("SaveSnapshot", snapshot.AutomationID, fmt.Errorf("failed to marshal graph: %w", err))
	}

	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO graph_snapshots (automation_id, version, graph, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (automation_id, version) DO NOTHING`,
		snapshot.AutomationID, snapshot.Version, graphJSON, snapshot.CreatedAt)
	if err != nil {
		return persistence.NewAutomationError("SaveSnapshot", snapshot.AutomationID, err)
	}

	return nil
}

func (r *AutomationRepository) Snapshot(ctx context.Context, automationID string, version int) (*models.GraphSnapshot, error) {
	var (
		snapshot  = models.GraphSnapshot{AutomationID: automationID, Version: version}
		graphJSON []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT graph, created_at FROM graph_snapshots
		WHERE automation_id = $1 AND version = $2`, automationID, version).
		Scan(&graphJSON, &snapshot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewAutomationError("Snapshot", automationID, persistence.ErrSnapshotNotFound)
	}

	if err != nil {
		return nil, persistence.NewAutomationError("Snapshot", automationID, err)
	}

	if err := json.Unmarshal(graphJSON, &snapshot.Graph); err != nil {
		return nil, persistence.NewAutomationError("Snapshot", automationID, fmt.Errorf("failed to unmarshal graph: %w", err))
	}

	return &snapshot, nil
}
