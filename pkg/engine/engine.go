// Package engine advances executions through their automation graph snapshot.
//
// Every step is appended to the execution's step log before the current node
// pointer moves, so a crash mid-step resumes at the same node and the step log
// tells the engine what already happened there.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/eventbus"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/facts"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/lease"
	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/otelhelper"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeactivationPolicy decides what happens to in-flight executions of an inactive automation.
type DeactivationPolicy string

const (
	// PolicyDrain lets started executions finish.
	PolicyDrain DeactivationPolicy = "drain"
	// PolicyCancel cancels an execution the next time it is resumed.
	PolicyCancel DeactivationPolicy = "cancel"
)

// ParseDeactivationPolicy accepts "drain" or "cancel"; empty means drain.
func ParseDeactivationPolicy(s string) (DeactivationPolicy, error) {
	switch DeactivationPolicy(s) {
	case "", PolicyDrain:
		return PolicyDrain, nil
	case PolicyCancel:
		return PolicyCancel, nil
	default:
		return "", fmt.Errorf("unknown deactivation policy %q", s)
	}
}

// Timers arms and disarms wake-ups for waiting executions.
type Timers interface {
	Schedule(executionID string, at time.Time)
	Cancel(executionID string)
}

// Dispatcher performs action nodes.
type Dispatcher interface {
	Dispatch(ctx context.Context, action *models.ActionConfig, execution *models.Execution, nodeID string, facts conditions.Facts) (dispatcher.Outcome, error)
}

type Config struct {
	WorkerID           string
	LeaseTTL           time.Duration
	Retry              RetryPolicy
	DeactivationPolicy DeactivationPolicy
}

// Dependencies are the collaborators of the engine. Publisher, Tracer and Metrics are optional.
type Dependencies struct {
	Automations persistence.AutomationRepository
	Executions  persistence.ExecutionRepository
	Leases      lease.Manager
	Dispatcher  Dispatcher
	Facts       facts.Provider
	Conditions  *conditions.Registry
	Timers      Timers
	Publisher   eventbus.EventPublisher
	Clock       clockwork.Clock
	Tracer      trace.Tracer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Engine struct {
	automations persistence.AutomationRepository
	executions  persistence.ExecutionRepository
	leases      lease.Manager
	dispatcher  Dispatcher
	facts       facts.Provider
	conditions  *conditions.Registry
	timers      Timers
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	config      Config

	// snapshots holds *graph.Index by snapshotKey.
	snapshots *lru.Cache
}

type snapshotKey struct {
	automationID string
	version      int
}

// DefaultLeaseTTL is the lease duration when Config.LeaseTTL is unset.
const DefaultLeaseTTL = 2 * time.Minute

const snapshotCacheSize = 512

func New(deps Dependencies, config Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	if deps.Conditions == nil {
		deps.Conditions = conditions.Default()
	}

	if deps.Facts == nil {
		deps.Facts = facts.PayloadOnly{}
	}

	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultLeaseTTL
	}

	if config.DeactivationPolicy == "" {
		config.DeactivationPolicy = PolicyDrain
	}

	config.Retry = config.Retry.withDefaults()

	snapshots, _ := lru.New(snapshotCacheSize)

	return &Engine{
		automations: deps.Automations,
		executions:  deps.Executions,
		leases:      deps.Leases,
		dispatcher:  deps.Dispatcher,
		facts:       deps.Facts,
		conditions:  deps.Conditions,
		timers:      deps.Timers,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		tracer:      deps.Tracer,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("module", "engine", "worker_id", config.WorkerID),
		config:      config,
		snapshots:   snapshots,
	}
}

func leaseKey(executionID string) string {
	return "execution:" + executionID
}

// Resume advances the execution until it waits, terminates or fails a step.
// It returns lease.ErrNotAcquired when another worker owns the execution.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkerIDKey, e.config.WorkerID),
	)
	defer span.End()

	owner, release, err := e.acquire(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}
	defer release()

	err = e.resume(ctx, executionID, owner)
	if persistence.IsExecutionFinished(err) {
		e.logger.InfoContext(ctx, "execution finished by another writer, step abandoned", "execution_id", executionID)

		return nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// acquire takes the execution lease under an owner unique to this call, so two
// goroutines of the same worker process also exclude each other.
func (e *Engine) acquire(ctx context.Context, executionID string) (string, func(), error) {
	owner := e.config.WorkerID + "/" + uuid.New().String()

	acquired, err := e.leases.TryAcquire(ctx, leaseKey(executionID), owner, e.config.LeaseTTL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to acquire execution lease: %w", err)
	}

	if !acquired {
		e.metrics.LeaseConflicts.Inc()

		return "", nil, fmt.Errorf("execution %s: %w", executionID, lease.ErrNotAcquired)
	}

	release := func() {
		if err := e.leases.Release(context.WithoutCancel(ctx), leaseKey(executionID), owner); err != nil {
			e.logger.WarnContext(ctx, "failed to release execution lease", "execution_id", executionID, "error", err)
		}
	}

	return owner, release, nil
}

func (e *Engine) resume(ctx context.Context, executionID, owner string) error {
	execution, err := e.executions.ByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	logger := e.logger.With("execution_id", execution.ID, "automation_id", execution.AutomationID)

	if execution.Status.Terminal() {
		logger.DebugContext(ctx, "execution already finished", "status", execution.Status)

		return nil
	}

	now := e.clock.Now()

	if execution.Status == models.ExecutionWaitingDelay && execution.ResumeAt != nil && now.Before(*execution.ResumeAt) {
		logger.DebugContext(ctx, "woken before resume time, re-arming", "resume_at", *execution.ResumeAt)
		e.schedule(execution.ID, *execution.ResumeAt)

		return nil
	}

	automation, err := e.automations.ByID(ctx, execution.AutomationID)
	if err != nil && !persistence.IsAutomationNotFound(err) {
		return fmt.Errorf("failed to load automation: %w", err)
	}

	if automation == nil {
		return e.cancel(ctx, execution, "automation deleted")
	}

	if !automation.Runnable() && e.config.DeactivationPolicy == PolicyCancel {
		return e.cancel(ctx, execution, "automation deactivated")
	}

	index, err := e.snapshot(ctx, execution.AutomationID, execution.GraphVersion)
	if err != nil {
		if errors.Is(err, persistence.ErrSnapshotNotFound) {
			return e.fail(ctx, execution, execution.CurrentNodeID, err)
		}

		return err
	}

	execution.Status = models.ExecutionRunning

	s := &stepper{engine: e, execution: execution, index: index, owner: owner, logger: logger}

	// A DAG visits each node at most once, so the loop is bounded by the node count.
	for range len(index.Nodes()) + 1 {
		cont, err := s.step(ctx)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}

	return e.fail(ctx, execution, execution.CurrentNodeID, errors.New("step limit exceeded"))
}

func (e *Engine) snapshot(ctx context.Context, automationID string, version int) (*graph.Index, error) {
	key := snapshotKey{automationID, version}

	if cached, ok := e.snapshots.Get(key); ok {
		return cached.(*graph.Index), nil
	}

	snapshot, err := e.automations.Snapshot(ctx, automationID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph snapshot v%d: %w", version, err)
	}

	index := graph.NewIndex(snapshot.Graph)
	e.snapshots.Add(key, index)

	return index, nil
}

func (e *Engine) schedule(executionID string, at time.Time) {
	if e.timers != nil {
		e.timers.Schedule(executionID, at)
	}
}

func (e *Engine) publish(ctx context.Context, execution *models.Execution, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, execution.ID, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"execution_id", execution.ID,
			"event_type", event.GetType(),
			"error", err)
	}
}

// appendStep records entry in the step log. It must happen before the execution state moves.
func (e *Engine) appendStep(ctx context.Context, execution *models.Execution, entry models.StepLogEntry) error {
	entry.Timestamp = e.clock.Now()

	if err := e.executions.AppendStep(ctx, execution.ID, &entry); err != nil {
		return fmt.Errorf("failed to append %s step for node %s: %w", entry.Outcome, entry.NodeID, err)
	}

	execution.Steps = append(execution.Steps, entry)
	e.metrics.Steps.WithLabelValues(string(entry.NodeKind), string(entry.Outcome)).Inc()

	return nil
}

func (e *Engine) update(ctx context.Context, execution *models.Execution) error {
	execution.UpdatedAt = e.clock.Now()

	if err := e.executions.Update(ctx, execution); err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	return nil
}

func (e *Engine) baseEvent(eventType events.EventType, execution *models.Execution) events.BaseEvent {
	event := events.NewBaseEvent(eventType, execution, e.clock.Now())
	event.WorkerID = e.config.WorkerID

	return event
}
