package services

import (
	"context"
	"fmt"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/template"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// Template manages the message templates referenced by send actions.
type Template struct {
	repository persistence.TemplateRepository
	validate   *validator.Validate
	clock      clockwork.Clock
}

func NewTemplate(repository persistence.TemplateRepository) *Template {
	return &Template{
		repository: repository,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		clock:      clockwork.NewRealClock(),
	}
}

func (s *Template) List(ctx context.Context) ([]*models.MessageTemplate, error) {
	return s.repository.List(ctx)
}

func (s *Template) FetchByID(ctx context.Context, id string) (*models.MessageTemplate, error) {
	return s.repository.ByID(ctx, id)
}

// Save creates or replaces a template after checking that subject and body parse.
func (s *Template) Save(ctx context.Context, tmpl *models.MessageTemplate) (*models.MessageTemplate, error) {
	if err := s.validate.Struct(tmpl); err != nil {
		return nil, NewValidationError("Save", "INVALID_TEMPLATE", err.Error(), ErrInvalidTemplate)
	}

	for name, text := range map[string]string{"subject": tmpl.Subject, "body": tmpl.Body} {
		if _, err := template.Parse(tmpl.ID+"."+name, text); err != nil {
			return nil, NewValidationError("Save", "INVALID_TEMPLATE", fmt.Sprintf("%s does not parse: %v", name, err), ErrInvalidTemplate)
		}
	}

	now := s.clock.Now().UTC()

	existing, err := s.repository.ByID(ctx, tmpl.ID)
	if err == nil {
		tmpl.CreatedAt = existing.CreatedAt
	} else {
		tmpl.CreatedAt = now
	}

	tmpl.UpdatedAt = now

	if err := s.repository.Save(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	return tmpl, nil
}
