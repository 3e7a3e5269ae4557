package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/lib/pq"
)

// ExecutionRepository handles executions and their step logs.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `id, automation_id, graph_version, trigger_node_id, event_id, event_type,
	subject, payload, current_node_id, status, resume_at, dedupe_key, attempt, last_error,
	created_at, updated_at, completed_at`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	subjectJSON, err := json.Marshal(execution.Subject)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to marshal subject: %w", err))
	}

	payloadJSON, err := json.Marshal(execution.Payload)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to marshal payload: %w", err))
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING id`

	var id string

	err = r.db.QueryRowContext(ctx, query,
		execution.ID,
		execution.AutomationID,
		execution.GraphVersion,
		execution.TriggerNodeID,
		execution.EventID,
		execution.EventType,
		subjectJSON,
		payloadJSON,
		execution.CurrentNodeID,
		execution.Status,
		execution.ResumeAt,
		execution.DedupeKey,
		execution.Attempt,
		execution.LastError,
		execution.CreatedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		var existing string

		lookupErr := r.db.QueryRowContext(ctx, `SELECT id FROM executions WHERE dedupe_key = $1`, execution.DedupeKey).Scan(&existing)
		if lookupErr != nil {
			r.logger.WarnContext(ctx, "failed to look up duplicate execution", "dedupe_key", execution.DedupeKey, "error", lookupErr)
		}

		return persistence.NewDuplicateExecutionError(existing, execution.DedupeKey)
	}

	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	steps, err := r.steps(ctx, id)
	if err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	execution.Steps = steps

	return execution, nil
}

func (r *ExecutionRepository) scan(row scanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		subjectJSON []byte
		payloadJSON []byte
		resumeAt    sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.AutomationID,
		&execution.GraphVersion,
		&execution.TriggerNodeID,
		&execution.EventID,
		&execution.EventType,
		&subjectJSON,
		&payloadJSON,
		&execution.CurrentNodeID,
		&execution.Status,
		&resumeAt,
		&execution.DedupeKey,
		&execution.Attempt,
		&execution.LastError,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(subjectJSON, &execution.Subject); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &execution.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if resumeAt.Valid {
		execution.ResumeAt = &resumeAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}

func (r *ExecutionRepository) steps(ctx context.Context, executionID string) ([]models.StepLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, node_id, node_kind, outcome, attempt, detail, error, created_at
		FROM execution_steps WHERE execution_id = $1 ORDER BY sequence`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	var steps []models.StepLogEntry

	for rows.Next() {
		var (
			step       models.StepLogEntry
			detailJSON []byte
		)

		err := rows.Scan(&step.Sequence, &step.NodeID, &step.NodeKind, &step.Outcome,
			&step.Attempt, &detailJSON, &step.Error, &step.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &step.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step detail: %w", err)
			}
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}

	return steps, nil
}

func (r *ExecutionRepository) AppendStep(ctx context.Context, executionID string, entry *models.StepLogEntry) error {
	var detailJSON []byte

	if entry.Detail != nil {
		var err error

		detailJSON, err = json.Marshal(entry.Detail)
		if err != nil {
			return persistence.NewExecutionError("AppendStep", executionID, fmt.Errorf("failed to marshal detail: %w", err))
		}
	}

	query := `
		INSERT INTO execution_steps (execution_id, sequence, node_id, node_kind, outcome, attempt, detail, error, created_at)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7, $8
		FROM execution_steps WHERE execution_id = $1
		RETURNING sequence`

	err := r.db.QueryRowContext(ctx, query,
		executionID,
		entry.NodeID,
		entry.NodeKind,
		entry.Outcome,
		entry.Attempt,
		detailJSON,
		entry.Error,
		entry.Timestamp,
	).Scan(&entry.Sequence)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return persistence.NewExecutionError("AppendStep", executionID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("AppendStep", executionID, err)
	}

	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE executions SET
			current_node_id = $2,
			status = $3,
			resume_at = $4,
			attempt = $5,
			last_error = $6,
			updated_at = $7,
			completed_at = $8
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		execution.ID,
		execution.CurrentNodeID,
		execution.Status,
		execution.ResumeAt,
		execution.Attempt,
		execution.LastError,
		execution.UpdatedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionFinished)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) ListByAutomation(ctx context.Context, automationID string, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE automation_id = $1`
	args := []any{automationID}

	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}

		query += ` AND status = ANY($2)`

		args = append(args, pq.Array(values))
	}

	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for automation %s: %w", automationID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) CountByAutomation(ctx context.Context, automationID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE automation_id = $1`, automationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions for automation %s: %w", automationID, err)
	}

	return count, nil
}

func (r *ExecutionRepository) Waiting(ctx context.Context) ([]persistence.ScheduledExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, resume_at FROM executions
		WHERE status = 'waiting_delay' AND resume_at IS NOT NULL
		ORDER BY resume_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	var scheduled []persistence.ScheduledExecution

	for rows.Next() {
		var s persistence.ScheduledExecution
		if err := rows.Scan(&s.ID, &s.ResumeAt); err != nil {
			return nil, fmt.Errorf("failed to scan waiting execution: %w", err)
		}

		scheduled = append(scheduled, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate waiting executions: %w", err)
	}

	return scheduled, nil
}

func (r *ExecutionRepository) Due(ctx context.Context, query persistence.DueQuery) ([]string, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 1000
	}

	var staleBefore sql.NullTime
	if !query.StaleBefore.IsZero() {
		staleBefore = sql.NullTime{Time: query.StaleBefore, Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM (
			SELECT id, resume_at AS due_at FROM executions
			WHERE status = 'waiting_delay' AND resume_at <= $1
			UNION ALL
			SELECT id, updated_at AS due_at FROM executions
			WHERE status = 'running' AND $2::timestamptz IS NOT NULL AND updated_at < $2
		) due
		ORDER BY due_at
		LIMIT $3`, query.Now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due execution: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due executions: %w", err)
	}

	return ids, nil
}
