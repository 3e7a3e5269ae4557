package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/persistence/file"
	"github.com/dukex/cartflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCanceller struct {
	mock.Mock
}

func (m *mockCanceller) CancelInFlight(ctx context.Context, automationID, reason string) (*engine.CancelReport, error) {
	args := m.Called(ctx, automationID, reason)

	report, _ := args.Get(0).(*engine.CancelReport)

	return report, args.Error(1)
}

func newAutomationService(t *testing.T) (*Automation, *file.Persistence, *mockCanceller) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	canceller := &mockCanceller{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewAutomation(p, nil, canceller, logger), p, canceller
}

func newDraft() *models.Automation {
	return &models.Automation{
		Name:        "First order thank you",
		Description: "Thanks first-time customers",
		Graph:       testutil.FirstOrderThankYouGraph(),
	}
}

func TestAutomation_Create(t *testing.T) {
	service, _, _ := newAutomationService(t)

	created, err := service.Create(t.Context(), newDraft())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.True(t, created.IsDraft)
	assert.False(t, created.IsActive)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
}

func TestAutomation_CreateValidation(t *testing.T) {
	service, _, _ := newAutomationService(t)

	tests := []struct {
		name       string
		automation *models.Automation
		want       error
	}{
		{"nil automation", nil, ErrAutomationNil},
		{"missing graph", &models.Automation{Name: "Welcome"}, ErrGraphRequired},
		{"short name", &models.Automation{Name: "Hi", Graph: testutil.FirstOrderThankYouGraph()}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(t.Context(), tt.automation)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestAutomation_UpdateBumpsVersionOnGraphChange(t *testing.T) {
	service, _, _ := newAutomationService(t)

	created, err := service.Create(t.Context(), newDraft())
	require.NoError(t, err)

	renamed := newDraft()
	renamed.Name = "First order thanks"

	updated, err := service.Update(t.Context(), created.ID, renamed)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, "First order thanks", updated.Name)

	edited := newDraft()
	edited.Graph.Nodes[1] = testutil.DelayNode("wait", 2, models.DelayUnitHours)

	updated, err = service.Update(t.Context(), created.ID, edited)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, created.CreatedAt.Unix(), updated.CreatedAt.Unix())
}

func TestAutomation_UpdateActiveRejectsInvalidGraph(t *testing.T) {
	service, _, _ := newAutomationService(t)

	created, err := service.Create(t.Context(), newDraft())
	require.NoError(t, err)

	_, err = service.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	broken := newDraft()
	broken.Graph.Edges = broken.Graph.Edges[:1]

	_, err = service.Update(t.Context(), created.ID, broken)
	require.ErrorIs(t, err, ErrValidationFailed)

	violations, ok := Violations(err)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}

func TestAutomation_ActivateAndDeactivate(t *testing.T) {
	service, _, _ := newAutomationService(t)

	created, err := service.Create(t.Context(), newDraft())
	require.NoError(t, err)

	activated, err := service.Activate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, activated.Runnable())

	deactivated, err := service.Deactivate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
}

func TestAutomation_ActivateInvalidGraph(t *testing.T) {
	service, _, _ := newAutomationService(t)

	draft := newDraft()
	draft.Graph = &models.Graph{Nodes: []*models.Node{testutil.EmailNode("email", "thanks")}}

	created, err := service.Create(t.Context(), draft)
	require.NoError(t, err)

	_, err = service.Activate(t.Context(), created.ID)
	require.ErrorIs(t, err, ErrValidationFailed)

	violations, ok := Violations(err)
	require.True(t, ok)
	assert.True(t, graph.ValidationResult{Violations: violations}.Has(graph.ViolationMissingTrigger))

	stored, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestAutomation_NotFound(t *testing.T) {
	service, _, _ := newAutomationService(t)

	_, err := service.Activate(t.Context(), "missing")
	assert.True(t, persistence.IsAutomationNotFound(err))

	_, err = service.CancelExecutions(t.Context(), "missing", "")
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func TestAutomation_CancelExecutions(t *testing.T) {
	service, _, canceller := newAutomationService(t)

	created, err := service.Create(t.Context(), newDraft())
	require.NoError(t, err)

	report := &engine.CancelReport{Cancelled: []string{"exec-1"}}
	canceller.On("CancelInFlight", mock.Anything, created.ID, "cancelled by operator").Return(report, nil).Once()

	got, err := service.CancelExecutions(t.Context(), created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, report, got)
	canceller.AssertExpectations(t)
}

func TestAutomation_Executions(t *testing.T) {
	service, p, _ := newAutomationService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	execution := &models.Execution{
		ID:            "exec-1",
		AutomationID:  created.ID,
		GraphVersion:  1,
		CurrentNodeID: "trigger",
		Status:        models.ExecutionWaitingDelay,
		DedupeKey:     models.DedupeKey(created.ID, "evt-1", models.Subject{CustomerID: "c-1"}),
	}
	require.NoError(t, p.ExecutionRepository().Create(ctx, execution))

	waiting, err := service.Executions(ctx, created.ID, models.ExecutionWaitingDelay)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)

	running, err := service.Executions(ctx, created.ID, models.ExecutionRunning)
	require.NoError(t, err)
	assert.Empty(t, running)

	fetched, err := service.Execution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.AutomationID)
}

func TestAutomation_DeleteRefusedWhileExecutionsExist(t *testing.T) {
	service, p, _ := newAutomationService(t)
	ctx := t.Context()

	created, err := service.Create(ctx, newDraft())
	require.NoError(t, err)

	resumeAt := time.Now().Add(time.Hour).UTC()
	require.NoError(t, p.ExecutionRepository().Create(ctx, &models.Execution{
		ID:            "exec-1",
		AutomationID:  created.ID,
		GraphVersion:  1,
		TriggerNodeID: "trigger",
		CurrentNodeID: "wait",
		Status:        models.ExecutionWaitingDelay,
		ResumeAt:      &resumeAt,
		DedupeKey:     created.ID + "|evt-1|customer:cust-1",
	}))

	err = service.Delete(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsAutomationInUse(err))

	_, err = service.FetchByID(ctx, created.ID)
	require.NoError(t, err)

	unused, err := service.Create(ctx, newDraft())
	require.NoError(t, err)
	require.NoError(t, service.Delete(ctx, unused.ID))
}

func TestAutomation_CancelExecutionsWithoutCanceller(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewAutomation(p, nil, nil, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

	created, err := service.Create(t.Context(), newDraft())
	require.NoError(t, err)

	_, err = service.CancelExecutions(t.Context(), created.ID, "")
	assert.ErrorIs(t, err, ErrCancellationUnavailable)
}
