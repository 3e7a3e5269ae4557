// Package matcher turns domain events into executions of the active
// automations whose trigger they satisfy.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/eventbus"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/metrics"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/otelhelper"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Starter hands new executions over: running ones to the workers, debounced
// ones to the scheduler.
type Starter interface {
	Enqueue(executionID string)
	Schedule(executionID string, at time.Time)
}

type Dependencies struct {
	Automations persistence.AutomationRepository
	Executions  persistence.ExecutionRepository
	Conditions  *conditions.Registry
	Starter     Starter
	Publisher   eventbus.EventPublisher
	Clock       clockwork.Clock
	Tracer      trace.Tracer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Matcher struct {
	automations persistence.AutomationRepository
	executions  persistence.ExecutionRepository
	conditions  *conditions.Registry
	starter     Starter
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	concurrency int

	// valid remembers graph validity by versionKey.
	valid *lru.Cache
}

type versionKey struct {
	automationID string
	version      int
}

const (
	defaultConcurrency = 8
	validCacheSize     = 1024
)

func New(deps Dependencies, concurrency int) *Matcher {
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

	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	valid, _ := lru.New(validCacheSize)

	return &Matcher{
		automations: deps.Automations,
		executions:  deps.Executions,
		conditions:  deps.Conditions,
		starter:     deps.Starter,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		tracer:      deps.Tracer,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("module", "matcher"),
		concurrency: concurrency,
		valid:       valid,
	}
}

// Created is an execution started for an event.
type Created struct {
	AutomationID  string `json:"automation_id"`
	ExecutionID   string `json:"execution_id"`
	TriggerNodeID string `json:"trigger_node_id"`
}

// Report summarises matching one event.
type Report struct {
	EventID string    `json:"event_id"`
	Created []Created `json:"created"`
	// Duplicates are automations that already had an execution for the event and subject.
	Duplicates []string `json:"duplicates,omitempty"`
	// Failed maps automation id to the error that stopped its match.
	Failed map[string]string `json:"failed,omitempty"`
}

// Match evaluates every active automation independently. A failure for one
// automation is reported in the joined error and does not stop the others.
func (m *Matcher) Match(ctx context.Context, event *events.DomainEvent) (*Report, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "matcher.match",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventTypeKey, string(event.EventType)),
	)
	defer span.End()

	start := m.clock.Now()
	defer func() {
		m.metrics.MatchDuration.Observe(m.clock.Since(start).Seconds())
	}()

	automations, err := m.automations.Active(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load active automations: %w", err)
	}

	var (
		mu     sync.Mutex
		errs   []error
		report = &Report{EventID: event.ID, Created: []Created{}}
		g      errgroup.Group
	)

	g.SetLimit(m.concurrency)

	for _, automation := range automations {
		g.Go(func() error {
			created, err := m.matchAutomation(ctx, automation, event)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case persistence.IsDuplicateExecution(err):
				report.Duplicates = append(report.Duplicates, automation.ID)
			case err != nil:
				m.metrics.MatchFailures.Inc()

				if report.Failed == nil {
					report.Failed = make(map[string]string)
				}

				report.Failed[automation.ID] = err.Error()
				errs = append(errs, fmt.Errorf("automation %s: %w", automation.ID, err))
			case created != nil:
				report.Created = append(report.Created, *created)
			}

			return nil
		})
	}

	_ = g.Wait()

	m.logger.InfoContext(ctx, "event matched",
		"event_id", event.ID,
		"event_type", event.EventType,
		"automations", len(automations),
		"created", len(report.Created),
		"duplicates", len(report.Duplicates),
		"failed", len(report.Failed))

	err = errors.Join(errs...)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return report, err
}

func (m *Matcher) matchAutomation(ctx context.Context, automation *models.Automation, event *events.DomainEvent) (*Created, error) {
	if !automation.Runnable() || automation.Graph == nil {
		return nil, nil
	}

	if !m.activatable(automation) {
		m.logger.WarnContext(ctx, "skipping automation with an invalid graph", "automation_id", automation.ID, "version", automation.Version)

		return nil, nil
	}

	trigger := FindTrigger(graph.NewIndex(automation.Graph), event)
	if trigger == nil {
		return nil, nil
	}

	err := m.automations.SaveSnapshot(ctx, &models.GraphSnapshot{
		AutomationID: automation.ID,
		Version:      automation.Version,
		Graph:        automation.Graph.Clone(),
		CreatedAt:    m.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot graph: %w", err)
	}

	now := m.clock.Now()
	execution := &models.Execution{
		ID:            uuid.New().String(),
		AutomationID:  automation.ID,
		GraphVersion:  automation.Version,
		TriggerNodeID: trigger.ID,
		EventID:       event.ID,
		EventType:     event.EventType,
		Subject:       event.Subject,
		Payload:       event.Payload,
		CurrentNodeID: trigger.ID,
		Status:        models.ExecutionRunning,
		DedupeKey:     models.DedupeKey(automation.ID, event.ID, event.Subject),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if wait := trigger.Trigger.WaitMinutes; wait > 0 {
		occurred := event.OccurredAt
		if occurred.IsZero() {
			occurred = now
		}

		resumeAt := occurred.Add(time.Duration(wait) * time.Minute)
		execution.Status = models.ExecutionWaitingDelay
		execution.ResumeAt = &resumeAt
	}

	if err := m.executions.Create(ctx, execution); err != nil {
		if persistence.IsDuplicateExecution(err) {
			m.logger.DebugContext(ctx, "execution already exists for event", "automation_id", automation.ID, "event_id", event.ID)
		}

		return nil, err
	}

	if err := m.automations.IncrementCounters(ctx, automation.ID, models.CounterDelta{Total: 1}); err != nil {
		m.logger.WarnContext(ctx, "failed to count execution", "automation_id", automation.ID, "error", err)
	}

	m.metrics.ExecutionsCreated.WithLabelValues(automation.ID, string(event.EventType)).Inc()

	if m.publisher != nil {
		err := m.publisher.Publish(ctx, execution.ID, events.ExecutionStarted{
			BaseEvent:     events.NewBaseEvent(events.ExecutionStartedEvent, execution, now),
			GraphVersion:  execution.GraphVersion,
			TriggerNodeID: trigger.ID,
			EventID:       event.ID,
			EventType:     event.EventType,
		})
		if err != nil {
			m.logger.WarnContext(ctx, "failed to publish execution started", "execution_id", execution.ID, "error", err)
		}
	}

	if execution.ResumeAt != nil {
		m.starter.Schedule(execution.ID, *execution.ResumeAt)
	} else {
		m.starter.Enqueue(execution.ID)
	}

	m.logger.InfoContext(ctx, "execution created",
		"automation_id", automation.ID,
		"execution_id", execution.ID,
		"trigger_node_id", trigger.ID,
		"event_id", event.ID)

	return &Created{AutomationID: automation.ID, ExecutionID: execution.ID, TriggerNodeID: trigger.ID}, nil
}

// activatable validates a graph version once and remembers the result.
func (m *Matcher) activatable(automation *models.Automation) bool {
	key := versionKey{automation.ID, automation.Version}

	if ok, seen := m.valid.Get(key); seen {
		return ok.(bool)
	}

	ok := graph.ValidateWith(automation.Graph, m.conditions).Valid()
	m.valid.Add(key, ok)

	return ok
}
