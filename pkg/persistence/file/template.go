package file

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
)

type TemplateRepository struct {
	root string
	mu   sync.RWMutex
}

func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

func (r *TemplateRepository) path(id string) string {
	return filepath.Join(r.root, templatesDir, id+".json")
}

func (r *TemplateRepository) List(_ context.Context) ([]*models.MessageTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var templates []*models.MessageTemplate

	err := readAll(filepath.Join(r.root, templatesDir), func(data []byte) error {
		var t models.MessageTemplate
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}

		templates = append(templates, &t)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	slices.SortFunc(templates, func(a, b *models.MessageTemplate) int { return strings.Compare(a.ID, b.ID) })

	return templates, nil
}

func (r *TemplateRepository) ByID(_ context.Context, id string) (*models.MessageTemplate, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid template id: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var t models.MessageTemplate
	if err := readJSON(r.path(id), &t, persistence.ErrTemplateNotFound); err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}

	return &t, nil
}

func (r *TemplateRepository) Save(_ context.Context, template *models.MessageTemplate) error {
	if err := validateID(template.ID); err != nil {
		return fmt.Errorf("invalid template id: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	return writeJSON(r.path(template.ID), template)
}
