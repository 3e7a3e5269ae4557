package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/lease"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
)

// park suspends the execution at nodeID until resumeAt.
func (e *Engine) park(ctx context.Context, execution *models.Execution, nodeID string, resumeAt time.Time, retry bool) error {
	execution.CurrentNodeID = nodeID
	execution.Status = models.ExecutionWaitingDelay
	execution.ResumeAt = &resumeAt

	if err := e.update(ctx, execution); err != nil {
		return err
	}

	e.schedule(execution.ID, resumeAt)

	e.publish(ctx, execution, events.ExecutionWaiting{
		BaseEvent: e.baseEvent(events.ExecutionWaitingEvent, execution),
		NodeID:    nodeID,
		ResumeAt:  resumeAt,
		Retry:     retry,
	})

	e.logger.InfoContext(ctx, "execution waiting",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"resume_at", resumeAt,
		"retry", retry)

	return nil
}

// retryOrFail handles a failed step: permanent errors and exhausted attempts
// fail the execution, anything else parks it for a backoff retry.
func (e *Engine) retryOrFail(ctx context.Context, execution *models.Execution, node *models.Node, cause error) error {
	execution.Attempt++
	execution.LastError = cause.Error()

	if permanent(cause) || e.config.Retry.Exhausted(execution.Attempt) {
		return e.fail(ctx, execution, node.ID, cause)
	}

	resumeAt := e.clock.Now().Add(e.config.Retry.Delay(execution.Attempt))

	err := e.appendStep(ctx, execution, models.StepLogEntry{
		NodeID:   node.ID,
		NodeKind: node.Kind,
		Outcome:  models.StepRetryScheduled,
		Attempt:  execution.Attempt,
		Error:    cause.Error(),
		Detail:   map[string]any{"resume_at": resumeAt.Format(time.RFC3339Nano)},
	})
	if err != nil {
		return err
	}

	return e.park(ctx, execution, node.ID, resumeAt, true)
}

func (e *Engine) complete(ctx context.Context, execution *models.Execution, node *models.Node) error {
	err := e.appendStep(ctx, execution, models.StepLogEntry{
		NodeID:   node.ID,
		NodeKind: node.Kind,
		Outcome:  models.StepCompleted,
	})
	if err != nil {
		return err
	}

	if err := e.finish(ctx, execution, models.ExecutionCompleted); err != nil {
		return err
	}

	if err := e.automations.IncrementCounters(ctx, execution.AutomationID, models.CounterDelta{Success: 1}); err != nil {
		e.logger.WarnContext(ctx, "failed to count completed execution", "automation_id", execution.AutomationID, "error", err)
	}

	e.publish(ctx, execution, events.ExecutionCompleted{
		BaseEvent: e.baseEvent(events.ExecutionCompletedEvent, execution),
		NodeID:    node.ID,
	})

	e.logger.InfoContext(ctx, "execution completed", "execution_id", execution.ID, "node_id", node.ID)

	return nil
}

func (e *Engine) fail(ctx context.Context, execution *models.Execution, nodeID string, cause error) error {
	var kind models.NodeKind

	if n, ok := e.nodeKind(ctx, execution, nodeID); ok {
		kind = n
	}

	execution.LastError = cause.Error()

	err := e.appendStep(ctx, execution, models.StepLogEntry{
		NodeID:   nodeID,
		NodeKind: kind,
		Outcome:  models.StepFailed,
		Attempt:  execution.Attempt,
		Error:    cause.Error(),
	})
	if err != nil {
		return err
	}

	if err := e.finish(ctx, execution, models.ExecutionFailed); err != nil {
		return err
	}

	if err := e.automations.IncrementCounters(ctx, execution.AutomationID, models.CounterDelta{Failure: 1}); err != nil {
		e.logger.WarnContext(ctx, "failed to count failed execution", "automation_id", execution.AutomationID, "error", err)
	}

	e.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent: e.baseEvent(events.ExecutionFailedEvent, execution),
		NodeID:    nodeID,
		Error:     cause.Error(),
		Attempt:   execution.Attempt,
	})

	e.logger.ErrorContext(ctx, "execution failed",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"attempt", execution.Attempt,
		"error", cause)

	return nil
}

func (e *Engine) cancel(ctx context.Context, execution *models.Execution, reason string) error {
	kind, _ := e.nodeKind(ctx, execution, execution.CurrentNodeID)

	err := e.appendStep(ctx, execution, models.StepLogEntry{
		NodeID:   execution.CurrentNodeID,
		NodeKind: kind,
		Outcome:  models.StepCancelled,
		Detail:   map[string]any{"reason": reason},
	})
	if err != nil {
		return err
	}

	if err := e.finish(ctx, execution, models.ExecutionCancelled); err != nil {
		return err
	}

	if e.timers != nil {
		e.timers.Cancel(execution.ID)
	}

	e.publish(ctx, execution, events.ExecutionCancelled{
		BaseEvent: e.baseEvent(events.ExecutionCancelledEvent, execution),
		NodeID:    execution.CurrentNodeID,
		Reason:    reason,
	})

	e.logger.InfoContext(ctx, "execution cancelled", "execution_id", execution.ID, "reason", reason)

	return nil
}

func (e *Engine) finish(ctx context.Context, execution *models.Execution, status models.ExecutionStatus) error {
	now := e.clock.Now()

	execution.Status = status
	execution.ResumeAt = nil
	execution.CompletedAt = &now

	if err := e.update(ctx, execution); err != nil {
		return err
	}

	e.metrics.ExecutionsFinished.WithLabelValues(string(status)).Inc()

	return nil
}

// nodeKind looks the node up in the execution's snapshot for step log entries.
func (e *Engine) nodeKind(ctx context.Context, execution *models.Execution, nodeID string) (models.NodeKind, bool) {
	index, err := e.snapshot(ctx, execution.AutomationID, execution.GraphVersion)
	if err != nil {
		return "", false
	}

	node, ok := index.Node(nodeID)
	if !ok {
		return "", false
	}

	return node.Kind, true
}

// CancelReport lists the outcome of cancelling the in-flight executions of an automation.
type CancelReport struct {
	Cancelled []string `json:"cancelled"`
	// Busy executions stayed leased by a worker through every attempt.
	Busy   []string          `json:"busy,omitempty"`
	Failed map[string]string `json:"failed,omitempty"`
}

const (
	cancelAttempts      = 3
	cancelRetryInterval = 200 * time.Millisecond
)

// CancelInFlight cancels every running or waiting execution of the automation.
func (e *Engine) CancelInFlight(ctx context.Context, automationID, reason string) (*CancelReport, error) {
	inFlight, err := e.executions.ListByAutomation(ctx, automationID, models.ExecutionRunning, models.ExecutionWaitingDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight executions: %w", err)
	}

	report := &CancelReport{Cancelled: []string{}}

	for _, execution := range inFlight {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(cancelRetryInterval), cancelAttempts-1), ctx)

		err := backoff.Retry(func() error {
			err := e.Cancel(ctx, execution.ID, reason)
			if err != nil && !errors.Is(err, lease.ErrNotAcquired) {
				return backoff.Permanent(err)
			}

			return err
		}, policy)

		switch {
		case err == nil:
			report.Cancelled = append(report.Cancelled, execution.ID)
		case errors.Is(err, lease.ErrNotAcquired):
			report.Busy = append(report.Busy, execution.ID)
		default:
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}

			report.Failed[execution.ID] = err.Error()
		}
	}

	e.logger.InfoContext(ctx, "in-flight executions cancelled",
		"automation_id", automationID,
		"cancelled", len(report.Cancelled),
		"busy", len(report.Busy),
		"failed", len(report.Failed))

	return report, nil
}

// Cancel cancels one execution under its lease. Finished executions are left untouched.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	_, release, err := e.acquire(ctx, executionID)
	if err != nil {
		return err
	}
	defer release()

	execution, err := e.executions.ByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status.Terminal() {
		return nil
	}

	if err := e.cancel(ctx, execution, reason); err != nil && !persistence.IsExecutionFinished(err) {
		return err
	}

	return nil
}
