package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrSnapshotNotFound indicates no graph snapshot exists for the automation version.
	ErrSnapshotNotFound = errors.New("graph snapshot not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinished indicates an update to an execution that already completed, failed or was cancelled.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrAutomationInUse indicates an automation that executions still reference.
	ErrAutomationInUse = errors.New("automation has executions")

	// ErrDuplicateExecution indicates an execution with the same dedupe key already exists.
	ErrDuplicateExecution = errors.New("execution already exists for dedupe key")

	// ErrTemplateNotFound indicates a message template was not found.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// AutomationError wraps automation-related errors with additional context.
type AutomationError struct {
	Op           string // Operation being performed (e.g., "ByID", "Save", "Delete")
	AutomationID string
	Err          error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s operation failed for automation %s: %v", e.Op, e.AutomationID, e.Err)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

func (e *AutomationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewAutomationError(op, automationID string, err error) *AutomationError {
	return &AutomationError{Op: op, AutomationID: automationID, Err: err}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	DedupeKey   string // set for creation conflicts
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.DedupeKey != "" {
		return fmt.Sprintf("%s operation failed for execution %s (dedupe key %s): %v", e.Op, e.ExecutionID, e.DedupeKey, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewDuplicateExecutionError reports a dedupe conflict on creation.
func NewDuplicateExecutionError(executionID, dedupeKey string) *ExecutionError {
	return &ExecutionError{Op: "Create", ExecutionID: executionID, DedupeKey: dedupeKey, Err: ErrDuplicateExecution}
}

func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsExecutionFinished(err error) bool {
	return errors.Is(err, ErrExecutionFinished)
}

func IsAutomationInUse(err error) bool {
	return errors.Is(err, ErrAutomationInUse)
}

func IsDuplicateExecution(err error) bool {
	return errors.Is(err, ErrDuplicateExecution)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}
