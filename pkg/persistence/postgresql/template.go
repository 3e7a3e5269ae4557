package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
)

type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) List(ctx context.Context) ([]*models.MessageTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel, subject, body, created_at, updated_at
		FROM message_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.MessageTemplate, 0)

	for rows.Next() {
		var t models.MessageTemplate
		if err := rows.Scan(&t.ID, &t.Channel, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) ByID(ctx context.Context, id string) (*models.MessageTemplate, error) {
	var t models.MessageTemplate

	err := r.db.QueryRowContext(ctx, `
		SELECT id, channel, subject, body, created_at, updated_at
		FROM message_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Channel, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get template %s: %w", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}

	return &t, nil
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.MessageTemplate) error {
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_templates (id, channel, subject, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			channel = EXCLUDED.channel,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at`,
		template.ID, template.Channel, template.Subject, template.Body, template.CreatedAt, template.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}

	return nil
}
