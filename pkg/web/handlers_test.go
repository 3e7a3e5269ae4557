package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/cartflow/pkg/engine"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/mocks"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence/file"
	"github.com/dukex/cartflow/pkg/services"
	"github.com/dukex/cartflow/pkg/testutil"
	"github.com/dukex/cartflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubCanceller struct{}

func (stubCanceller) CancelInFlight(_ context.Context, _, _ string) (*engine.CancelReport, error) {
	return &engine.CancelReport{Cancelled: []string{}}, nil
}

type testApp struct {
	app   *fiber.App
	store *file.Persistence
	bus   *mocks.MockEventBus
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := &mocks.MockEventBus{}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	m.ExecutionsCreated.WithLabelValues("auto-1", "order_created").Inc()

	handlers := web.NewAPIHandlers(
		services.NewAutomation(store, nil, stubCanceller{}, logger),
		services.NewTemplate(store.TemplateRepository()),
		services.NewIngest(bus, logger),
		validator.New(validator.WithRequiredStructEnabled()),
		registry,
	)

	app := fiber.New()
	handlers.Register(app)

	return &testApp{app: app, store: store, bus: bus}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, out
}

func (a *testApp) create(t *testing.T) models.Automation {
	t.Helper()

	resp, body := a.do(t, http.MethodPost, "/automations", web.AutomationRequest{
		Name:  "First order thank you",
		Graph: testutil.FirstOrderThankYouGraph(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created models.Automation
	require.NoError(t, json.Unmarshal(body, &created))

	return created
}

func TestAPIHandlers_CreateAutomation(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "engine graph",
			body:           web.AutomationRequest{Name: "First order thank you", Graph: testutil.FirstOrderThankYouGraph()},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "editor document",
			body: web.AutomationRequest{
				Name: "Cart reminder",
				Editor: &graph.EditorGraph{
					Nodes: []graph.EditorNode{
						{ID: "t", Type: "trigger", Data: map[string]any{"eventType": "cart_abandoned"}},
						{ID: "e", Type: "action", Data: map[string]any{"actionKind": "send_email", "templateId": "cart"}},
					},
					Edges: []graph.EditorEdge{{ID: "t-e", Source: "t", Target: "e"}},
				},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing name",
			body:           web.AutomationRequest{Graph: testutil.FirstOrderThankYouGraph()},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Name",
		},
		{
			name:           "missing graph",
			body:           web.AutomationRequest{Name: "No graph"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Graph",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := setupTestApp(t)

			resp, body := a.do(t, http.MethodPost, "/automations", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)
			}
		})
	}
}

func TestAPIHandlers_ActivateInvalidGraphReturnsViolations(t *testing.T) {
	a := setupTestApp(t)

	resp, body := a.do(t, http.MethodPost, "/automations", web.AutomationRequest{
		Name:  "Broken",
		Graph: &models.Graph{Nodes: []*models.Node{testutil.EmailNode("email", "thanks")}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Automation
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body = a.do(t, http.MethodPost, "/automations/"+created.ID+"/activate", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem struct {
		Type       string            `json:"type"`
		Violations []graph.Violation `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "graph_invalid", problem.Type)
	assert.NotEmpty(t, problem.Violations)
}

func TestAPIHandlers_AutomationLifecycle(t *testing.T) {
	a := setupTestApp(t)
	created := a.create(t)

	resp, body := a.do(t, http.MethodPost, "/automations/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var activated models.Automation
	require.NoError(t, json.Unmarshal(body, &activated))
	assert.True(t, activated.IsActive)

	edited := testutil.FirstOrderThankYouGraph()
	edited.Nodes[1] = testutil.DelayNode("wait", 3, models.DelayUnitHours)

	resp, body = a.do(t, http.MethodPut, "/automations/"+created.ID, web.AutomationRequest{Name: created.Name, Graph: edited})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated models.Automation
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 2, updated.Version)

	resp, _ = a.do(t, http.MethodPost, "/automations/"+created.ID+"/deactivate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = a.do(t, http.MethodPost, "/automations/"+created.ID+"/cancel-executions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"cancelled":[]}`, string(body))

	resp, body = a.do(t, http.MethodGet, "/automations/"+created.ID+"/executions?status=running,waiting_delay", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total_count":0`)

	resp, _ = a.do(t, http.MethodDelete, "/automations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = a.do(t, http.MethodGet, "/automations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "automation_not_found")
}

func TestAPIHandlers_ValidateGraph(t *testing.T) {
	a := setupTestApp(t)

	resp, body := a.do(t, http.MethodPost, "/automations/validate", web.ValidateRequest{Graph: testutil.FirstOrderThankYouGraph()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.ValidationResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Valid)

	cyclic := testutil.FirstOrderThankYouGraph()
	cyclic.Edges = append(cyclic.Edges, testutil.Edge("vip", "wait"))

	resp, body = a.do(t, http.MethodPost, "/automations/validate", web.ValidateRequest{Graph: cyclic})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.Valid)
	assert.True(t, graph.ValidationResult{Violations: result.Violations}.Has(graph.ViolationCycle))
}

func TestAPIHandlers_GetExecution(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	execution := &models.Execution{
		ID:            "exec-1",
		AutomationID:  "auto-1",
		CurrentNodeID: "trigger",
		Status:        models.ExecutionRunning,
		DedupeKey:     "auto-1|evt-1|customer:c-1",
	}
	require.NoError(t, a.store.ExecutionRepository().Create(ctx, execution))
	require.NoError(t, a.store.ExecutionRepository().AppendStep(ctx, "exec-1", &models.StepLogEntry{
		NodeID:  "trigger",
		Outcome: models.StepTriggered,
	}))

	resp, body := a.do(t, http.MethodGet, "/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Execution
	require.NoError(t, json.Unmarshal(body, &fetched))
	require.Len(t, fetched.Steps, 1)
	assert.Equal(t, models.StepTriggered, fetched.Steps[0].Outcome)

	resp, _ = a.do(t, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Templates(t *testing.T) {
	a := setupTestApp(t)

	resp, body := a.do(t, http.MethodPut, "/templates/vip-thankyou", web.TemplateRequest{
		Channel: models.ChannelEmail,
		Subject: "Thanks {{ .customer.name }}",
		Body:    "See you soon",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = a.do(t, http.MethodGet, "/templates/vip-thankyou", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "See you soon")

	resp, _ = a.do(t, http.MethodPut, "/templates/broken", web.TemplateRequest{Channel: models.ChannelSMS, Body: "{{ .customer.name "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/templates/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_IngestEvent(t *testing.T) {
	a := setupTestApp(t)
	a.bus.On("Publish", mock.Anything, "customer:c-1", mock.AnythingOfType("events.DomainEvent")).Return(nil).Once()

	resp, body := a.do(t, http.MethodPost, "/events", web.EventRequest{
		EventType: models.EventOrderCreated,
		Subject:   models.Subject{CustomerID: "c-1"},
		Payload:   map[string]any{"order_total": 75},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var accepted web.EventAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.NotEmpty(t, accepted.ID)
	a.bus.AssertExpectations(t)

	resp, _ = a.do(t, http.MethodPost, "/events", web.EventRequest{EventType: models.EventOrderCreated})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_HealthAndMetrics(t *testing.T) {
	a := setupTestApp(t)

	resp, body := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	resp, body = a.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cartflow_executions_created_total")
}

func TestAPIHandlers_DeleteAutomationWithExecutions(t *testing.T) {
	a := setupTestApp(t)
	created := a.create(t)

	require.NoError(t, a.store.ExecutionRepository().Create(context.Background(), &models.Execution{
		ID:            "exec-1",
		AutomationID:  created.ID,
		GraphVersion:  1,
		TriggerNodeID: "trigger",
		CurrentNodeID: "wait",
		Status:        models.ExecutionWaitingDelay,
		DedupeKey:     created.ID + "|evt-1|customer:cust-1",
	}))

	resp, body := a.do(t, http.MethodDelete, "/automations/"+created.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "automation_in_use")

	resp, _ = a.do(t, http.MethodGet, "/automations/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
