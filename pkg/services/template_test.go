package services

import (
	"testing"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_Save(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewTemplate(p.TemplateRepository())

	saved, err := service.Save(t.Context(), &models.MessageTemplate{
		ID:      "vip-thankyou",
		Channel: models.ChannelEmail,
		Subject: "Thanks {{ .customer.name }}",
		Body:    "Your order {{ .order.id }} is on its way",
	})
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero())

	created := saved.CreatedAt

	saved, err = service.Save(t.Context(), &models.MessageTemplate{ID: "vip-thankyou", Channel: models.ChannelEmail, Body: "Updated"})
	require.NoError(t, err)
	assert.Equal(t, created.Unix(), saved.CreatedAt.Unix())

	fetched, err := service.FetchByID(t.Context(), "vip-thankyou")
	require.NoError(t, err)
	assert.Equal(t, "Updated", fetched.Body)
}

func TestTemplate_SaveRejectsInvalid(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewTemplate(p.TemplateRepository())

	tests := []struct {
		name string
		tmpl *models.MessageTemplate
	}{
		{"unknown channel", &models.MessageTemplate{ID: "t", Channel: "push", Body: "hi"}},
		{"missing body", &models.MessageTemplate{ID: "t", Channel: models.ChannelSMS}},
		{"broken body", &models.MessageTemplate{ID: "t", Channel: models.ChannelSMS, Body: "Hi {{ .customer.name "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Save(t.Context(), tt.tmpl)
			require.ErrorIs(t, err, ErrInvalidTemplate)
			assert.True(t, IsValidationError(err))
		})
	}
}
