package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/facts"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/otelhelper"
	"github.com/dukex/cartflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// stepper runs the steps of one execution while the engine holds its lease.
type stepper struct {
	engine    *Engine
	execution *models.Execution
	index     *graph.Index
	owner     string
	logger    *slog.Logger
}

// step processes the current node. It returns false when the execution
// stops: it is waiting, finished or the step failed.
func (s *stepper) step(ctx context.Context) (bool, error) {
	node, ok := s.index.Node(s.execution.CurrentNodeID)
	if !ok {
		return false, s.engine.fail(ctx, s.execution, s.execution.CurrentNodeID,
			fmt.Errorf("node %q not in graph v%d", s.execution.CurrentNodeID, s.execution.GraphVersion))
	}

	ctx, span := otelhelper.StartSpan(ctx, s.engine.tracer, "engine.step",
		attribute.String(otelhelper.ExecutionIDKey, s.execution.ID),
		attribute.String(otelhelper.AutomationIDKey, s.execution.AutomationID),
		attribute.Int(otelhelper.GraphVersionKey, s.execution.GraphVersion),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)
	defer span.End()

	var (
		cont bool
		err  error
	)

	switch node.Kind {
	case models.NodeKindTrigger:
		cont, err = s.trigger(ctx, node)
	case models.NodeKindDelay:
		cont, err = s.delay(ctx, node)
	case models.NodeKindCondition:
		cont, err = s.condition(ctx, node)
	case models.NodeKindAction:
		cont, err = s.action(ctx, node)
	case models.NodeKindEnd:
		err = s.engine.complete(ctx, s.execution, node)
	default:
		err = s.engine.fail(ctx, s.execution, node.ID, fmt.Errorf("unknown node kind %q", node.Kind))
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return cont, err
}

// lastStep returns the step log entry for node, if the node was already worked on.
func (s *stepper) lastStep(nodeID string) (models.StepLogEntry, bool) {
	return s.execution.LastStepFor(nodeID)
}

func (s *stepper) trigger(ctx context.Context, node *models.Node) (bool, error) {
	if _, done := s.lastStep(node.ID); !done {
		err := s.engine.appendStep(ctx, s.execution, models.StepLogEntry{
			NodeID:   node.ID,
			NodeKind: node.Kind,
			Outcome:  models.StepTriggered,
			Detail:   map[string]any{"event_id": s.execution.EventID, "event_type": string(s.execution.EventType)},
		})
		if err != nil {
			return false, err
		}
	}

	next, _ := s.index.Next(node.ID)

	return s.advance(ctx, node, next)
}

func (s *stepper) delay(ctx context.Context, node *models.Node) (bool, error) {
	last, seen := s.lastStep(node.ID)

	if seen && last.Outcome == models.StepDelayElapsed {
		next, _ := s.index.Next(node.ID)

		return s.advance(ctx, node, next)
	}

	now := s.engine.clock.Now()

	if !seen {
		duration, err := node.Delay.Duration()
		if err != nil {
			return false, s.engine.fail(ctx, s.execution, node.ID, err)
		}

		resumeAt := now.Add(duration)

		err = s.engine.appendStep(ctx, s.execution, models.StepLogEntry{
			NodeID:   node.ID,
			NodeKind: node.Kind,
			Outcome:  models.StepWaiting,
			Detail:   map[string]any{"resume_at": resumeAt.Format(time.RFC3339Nano)},
		})
		if err != nil {
			return false, err
		}

		return false, s.engine.park(ctx, s.execution, node.ID, resumeAt, false)
	}

	resumeAt, err := waitingUntil(s.execution, last)
	if err != nil {
		return false, s.engine.fail(ctx, s.execution, node.ID, err)
	}

	if now.Before(resumeAt) {
		return false, s.engine.park(ctx, s.execution, node.ID, resumeAt, false)
	}

	err = s.engine.appendStep(ctx, s.execution, models.StepLogEntry{
		NodeID:   node.ID,
		NodeKind: node.Kind,
		Outcome:  models.StepDelayElapsed,
	})
	if err != nil {
		return false, err
	}

	next, _ := s.index.Next(node.ID)

	return s.advance(ctx, node, next)
}

// waitingUntil recovers the resume time of a delay from the execution or its waiting step.
func waitingUntil(execution *models.Execution, waiting models.StepLogEntry) (time.Time, error) {
	if execution.ResumeAt != nil {
		return *execution.ResumeAt, nil
	}

	raw, _ := waiting.Detail["resume_at"].(string)

	resumeAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("waiting step has no resume time: %w", err)
	}

	return resumeAt, nil
}

func (s *stepper) condition(ctx context.Context, node *models.Node) (bool, error) {
	if last, seen := s.lastStep(node.ID); seen && last.Outcome == models.StepBranched {
		label, _ := last.Detail["label"].(string)

		return s.follow(ctx, node, label)
	}

	fresh, err := s.engine.facts.Facts(ctx, s.execution.Subject)
	if err != nil {
		return false, s.engine.retryOrFail(ctx, s.execution, node, fmt.Errorf("failed to fetch subject facts: %w", err))
	}

	merged := facts.Merge(s.execution.Payload, s.execution.Subject, fresh)

	label, err := s.engine.conditions.Evaluate(*node.Condition, merged, s.engine.clock.Now())
	if err != nil {
		return false, s.engine.retryOrFail(ctx, s.execution, node, err)
	}

	err = s.engine.appendStep(ctx, s.execution, models.StepLogEntry{
		NodeID:   node.ID,
		NodeKind: node.Kind,
		Outcome:  models.StepBranched,
		Attempt:  s.execution.Attempt,
		Detail: map[string]any{
			"label":          label,
			"condition_type": string(node.Condition.Type),
			"operator":       string(node.Condition.Operator),
			"value":          node.Condition.Value,
		},
	})
	if err != nil {
		return false, err
	}

	s.logger.DebugContext(ctx, "condition evaluated", "node_id", node.ID, "label", label)

	return s.follow(ctx, node, label)
}

func (s *stepper) follow(ctx context.Context, node *models.Node, label string) (bool, error) {
	next, ok := s.index.Follow(node.ID, label)
	if !ok {
		return false, s.engine.fail(ctx, s.execution, node.ID, fmt.Errorf("condition %s has no %q edge", node.ID, label))
	}

	return s.advance(ctx, node, next)
}

func (s *stepper) action(ctx context.Context, node *models.Node) (bool, error) {
	if last, seen := s.lastStep(node.ID); seen && last.Outcome == models.StepDispatched {
		next, _ := s.index.Next(node.ID)

		return s.advance(ctx, node, next)
	}

	if node.Action.Kind == models.ActionEndFlow {
		return false, s.engine.complete(ctx, s.execution, node)
	}

	e := s.engine

	if err := e.leases.Renew(ctx, leaseKey(s.execution.ID), s.owner, e.config.LeaseTTL); err != nil {
		return false, fmt.Errorf("lost execution lease before dispatch: %w", err)
	}

	fresh, err := e.facts.Facts(ctx, s.execution.Subject)
	if err != nil {
		s.logger.WarnContext(ctx, "rendering action without fresh facts", "node_id", node.ID, "error", err)
	}

	if err := s.ensureUnfinished(ctx); err != nil {
		return false, err
	}

	merged := facts.Merge(s.execution.Payload, s.execution.Subject, fresh)
	attempt := s.execution.Attempt + 1
	start := e.clock.Now()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.dispatch",
		attribute.String(otelhelper.ActionKindKey, string(node.Action.Kind)),
		attribute.Int("cartflow.action.attempt", attempt),
	)

	outcome, err := e.dispatcher.Dispatch(ctx, node.Action, s.execution, node.ID, merged)

	e.metrics.ActionDuration.WithLabelValues(string(node.Action.Kind)).Observe(e.clock.Since(start).Seconds())

	if err != nil {
		otelhelper.SetError(span, err)
		span.End()

		e.metrics.ActionAttempts.WithLabelValues(string(node.Action.Kind), "error").Inc()
		s.logger.WarnContext(ctx, "action attempt failed",
			"node_id", node.ID,
			"action_kind", node.Action.Kind,
			"attempt", attempt,
			"permanent", permanent(err),
			"error", err)

		return false, e.retryOrFail(ctx, s.execution, node, err)
	}

	span.End()

	e.metrics.ActionAttempts.WithLabelValues(string(node.Action.Kind), "success").Inc()
	s.logger.InfoContext(ctx, "action dispatched",
		"node_id", node.ID,
		"action_kind", node.Action.Kind,
		"attempt", attempt,
		"message_id", outcome.MessageID)

	err = e.appendStep(ctx, s.execution, models.StepLogEntry{
		NodeID:   node.ID,
		NodeKind: node.Kind,
		Outcome:  models.StepDispatched,
		Attempt:  attempt,
		Detail:   outcome.Detail,
	})
	if err != nil {
		return false, err
	}

	e.publish(ctx, s.execution, events.ActionDispatched{
		BaseEvent:  e.baseEvent(events.ActionDispatchedEvent, s.execution),
		NodeID:     node.ID,
		ActionKind: node.Action.Kind,
		MessageID:  outcome.MessageID,
	})

	next, _ := s.index.Next(node.ID)

	return s.advance(ctx, node, next)
}

// ensureUnfinished rereads the stored status so an execution cancelled by
// another writer sends nothing more.
func (s *stepper) ensureUnfinished(ctx context.Context) error {
	stored, err := s.engine.executions.ByID(ctx, s.execution.ID)
	if err != nil {
		return fmt.Errorf("failed to reload execution: %w", err)
	}

	if stored.Status.Terminal() {
		return persistence.NewExecutionError("Dispatch", s.execution.ID, persistence.ErrExecutionFinished)
	}

	return nil
}

// advance moves the pointer to next, or completes the execution when from is terminal.
func (s *stepper) advance(ctx context.Context, from *models.Node, next string) (bool, error) {
	if next == "" {
		return false, s.engine.complete(ctx, s.execution, from)
	}

	s.execution.CurrentNodeID = next
	s.execution.Status = models.ExecutionRunning
	s.execution.ResumeAt = nil
	s.execution.Attempt = 0
	s.execution.LastError = ""

	if err := s.engine.update(ctx, s.execution); err != nil {
		return false, err
	}

	return true, nil
}
