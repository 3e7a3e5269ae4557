package matcher_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/matcher"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/persistence/file"
	"github.com/dukex/cartflow/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type starter struct {
	mu        sync.Mutex
	enqueued  []string
	scheduled map[string]time.Time
}

func (s *starter) Enqueue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqueued = append(s.enqueued, id)
}

func (s *starter) Schedule(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduled == nil {
		s.scheduled = make(map[string]time.Time)
	}

	s.scheduled[id] = at
}

type fixture struct {
	store   *file.Persistence
	starter *starter
	clock   *clockwork.FakeClock
	matcher *matcher.Matcher
}

func setup(t *testing.T, automations ...*models.Automation) *fixture {
	t.Helper()

	store, err := file.NewPersistence("file://" + t.TempDir())
	require.NoError(t, err)

	for _, a := range automations {
		require.NoError(t, store.AutomationRepository().Save(context.Background(), a))
	}

	f := &fixture{
		store:   store,
		starter: &starter{},
		clock:   clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
	}

	f.matcher = matcher.New(matcher.Dependencies{
		Automations: store.AutomationRepository(),
		Executions:  store.ExecutionRepository(),
		Starter:     f.starter,
		Clock:       f.clock,
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}, 4)

	return f
}

func TestMatch_CreatesExecutionForFirstOrder(t *testing.T) {
	automation := testutil.CreateTestAutomation()
	f := setup(t, automation)
	ctx := context.Background()

	event := testutil.FirstOrderEvent("evt-1", 75)
	report, err := f.matcher.Match(ctx, &event)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	created := report.Created[0]
	assert.Equal(t, automation.ID, created.AutomationID)
	assert.Equal(t, "trigger", created.TriggerNodeID)
	assert.Equal(t, []string{created.ExecutionID}, f.starter.enqueued)

	execution, err := f.store.ExecutionRepository().ByID(ctx, created.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, execution.Status)
	assert.Equal(t, "trigger", execution.CurrentNodeID)
	assert.Equal(t, 1, execution.GraphVersion)
	assert.Equal(t, models.DedupeKey(automation.ID, "evt-1", event.Subject), execution.DedupeKey)

	snapshot, err := f.store.AutomationRepository().Snapshot(ctx, automation.ID, 1)
	require.NoError(t, err)
	assert.Len(t, snapshot.Graph.Nodes, len(automation.Graph.Nodes))

	stored, err := f.store.AutomationRepository().ByID(ctx, automation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalExecutions)
}

func TestMatch_DuplicateEventIsIdempotent(t *testing.T) {
	automation := testutil.CreateTestAutomation()
	f := setup(t, automation)
	ctx := context.Background()

	event := testutil.FirstOrderEvent("evt-1", 75)

	first, err := f.matcher.Match(ctx, &event)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := f.matcher.Match(ctx, &event)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, []string{automation.ID}, second.Duplicates)

	executions, err := f.store.ExecutionRepository().ListByAutomation(ctx, automation.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
	assert.Len(t, f.starter.enqueued, 1)
}

func TestMatch_SkipsInactiveDraftAndNonMatching(t *testing.T) {
	inactive := testutil.CreateTestAutomation(testutil.Inactive())
	draft := testutil.CreateTestAutomation(testutil.Draft())
	other := testutil.CreateTestAutomation(testutil.WithGraph(&models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("trigger", models.EventCartAbandoned),
			testutil.EmailNode("email", "cart-reminder"),
		},
		Edges: []*models.Edge{testutil.Edge("trigger", "email")},
	}))
	f := setup(t, inactive, draft, other)

	event := testutil.FirstOrderEvent("evt-1", 75)
	report, err := f.matcher.Match(context.Background(), &event)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Empty(t, f.starter.enqueued)
}

func TestMatch_RepeatOrderDoesNotMatchFirstOrderTrigger(t *testing.T) {
	f := setup(t, testutil.CreateTestAutomation())

	event := testutil.FirstOrderEvent("evt-1", 75)
	event.Payload["is_first_order"] = false

	report, err := f.matcher.Match(context.Background(), &event)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
}

func TestMatch_SkipsInvalidGraph(t *testing.T) {
	broken := testutil.CreateTestAutomation(testutil.WithGraph(&models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("trigger", models.EventOrderCreated),
			testutil.EmailNode("email", "thanks"),
		},
		Edges: []*models.Edge{testutil.Edge("trigger", "missing")},
	}))
	valid := testutil.CreateTestAutomation()
	f := setup(t, broken, valid)

	event := testutil.FirstOrderEvent("evt-1", 75)
	report, err := f.matcher.Match(context.Background(), &event)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, valid.ID, report.Created[0].AutomationID)
}

func TestMatch_WaitMinutesSchedulesExecution(t *testing.T) {
	automation := testutil.CreateTestAutomation(testutil.WithGraph(&models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("trigger", models.EventCartAbandoned, testutil.WaitMinutes(30)),
			testutil.EmailNode("email", "cart-reminder"),
		},
		Edges: []*models.Edge{testutil.Edge("trigger", "email")},
	}))
	f := setup(t, automation)
	ctx := context.Background()

	occurred := f.clock.Now().Add(-5 * time.Minute)
	event := events.DomainEvent{
		ID:         "evt-cart",
		EventType:  models.EventCartAbandoned,
		Subject:    models.Subject{CartID: "cart-9"},
		OccurredAt: occurred,
	}

	report, err := f.matcher.Match(ctx, &event)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	id := report.Created[0].ExecutionID
	assert.Empty(t, f.starter.enqueued)
	assert.Equal(t, occurred.Add(30*time.Minute), f.starter.scheduled[id])

	execution, err := f.store.ExecutionRepository().ByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionWaitingDelay, execution.Status)
	require.NotNil(t, execution.ResumeAt)
	assert.True(t, execution.ResumeAt.Equal(occurred.Add(30*time.Minute)))
}

func TestMatch_InvalidEvent(t *testing.T) {
	f := setup(t)

	_, err := f.matcher.Match(context.Background(), &events.DomainEvent{ID: "evt-1", EventType: models.EventOrderCreated})
	assert.ErrorIs(t, err, events.ErrInvalidEventData)
}

type failingExecutions struct {
	persistence.ExecutionRepository
	failFor string
}

func (r failingExecutions) Create(ctx context.Context, execution *models.Execution) error {
	if execution.AutomationID == r.failFor {
		return assert.AnError
	}

	return r.ExecutionRepository.Create(ctx, execution)
}

func TestMatch_FailureIsIsolatedPerAutomation(t *testing.T) {
	failing := testutil.CreateTestAutomation()
	healthy := testutil.CreateTestAutomation()
	f := setup(t, failing, healthy)

	m := matcher.New(matcher.Dependencies{
		Automations: f.store.AutomationRepository(),
		Executions:  failingExecutions{ExecutionRepository: f.store.ExecutionRepository(), failFor: failing.ID},
		Starter:     f.starter,
		Clock:       f.clock,
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}, 1)

	event := testutil.FirstOrderEvent("evt-1", 75)
	report, err := m.Match(context.Background(), &event)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), failing.ID)

	require.Len(t, report.Created, 1)
	assert.Equal(t, healthy.ID, report.Created[0].AutomationID)
	assert.Contains(t, report.Failed, failing.ID)
}
