package web

import (
	"errors"

	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// violationsProblem is a validation problem listing the graph violations.
type violationsProblem struct {
	*problems.DefaultProblem

	Violations []graph.Violation `json:"violations"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func unavailable(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(503).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	if violations, ok := services.Violations(err); ok {
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("graph_invalid").
			WithDetail(services.ErrValidationFailed.Error())

		return c.Status(fiber.StatusBadRequest).JSON(violationsProblem{DefaultProblem: problem, Violations: violations})
	}

	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	case persistence.IsAutomationNotFound(err):
		return notFound(c, "automation_not_found", "automation not found")
	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")
	case persistence.IsTemplateNotFound(err):
		return notFound(c, "template_not_found", "template not found")
	case persistence.IsAutomationInUse(err):
		return conflict(c, "automation_in_use", "automation has executions; deactivate it instead")
	case errors.Is(err, services.ErrCancellationUnavailable):
		return unavailable(c, "cancellation_unavailable", err.Error())
	default:
		return internalError(c, err)
	}
}
