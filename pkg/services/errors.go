// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/graph"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrValidationFailed = errors.New("graph validation failed")
	ErrAutomationNil    = errors.New("automation cannot be nil")
	ErrGraphRequired    = errors.New("automation graph is required")
	ErrInvalidTemplate  = errors.New("invalid message template")

	// ErrCancellationUnavailable is returned when the service runs without a
	// lease backend shared with the workers (503 Service Unavailable).
	ErrCancellationUnavailable = errors.New("execution cancellation needs a lease backend shared with the workers")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ValidationError carries the graph violations that blocked an operation.
type ValidationError struct {
	Op         string
	Violations []graph.Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrValidationFailed, graph.ValidationResult{Violations: e.Violations}.Error())
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Violations returns the graph violations wrapped in err, if any.
func Violations(err error) ([]graph.Violation, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Violations, true
	}

	return nil, false
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrAutomationNil) ||
		errors.Is(err, ErrGraphRequired) ||
		errors.Is(err, ErrInvalidTemplate) ||
		errors.Is(err, events.ErrInvalidEventData)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
