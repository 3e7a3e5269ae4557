// Package web provides HTTP handlers and REST API endpoints for automation management.
package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errInvalidJSON = errors.New("invalid JSON format")

type APIHandlers struct {
	automations *services.Automation
	templates   *services.Template
	ingest      *services.Ingest
	validator   *validator.Validate
	gatherer    prometheus.Gatherer
}

func NewAPIHandlers(
	automations *services.Automation,
	templates *services.Template,
	ingest *services.Ingest,
	validator *validator.Validate,
	gatherer prometheus.Gatherer,
) *APIHandlers {
	return &APIHandlers{
		automations: automations,
		templates:   templates,
		ingest:      ingest,
		validator:   validator,
		gatherer:    gatherer,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	if h.gatherer != nil {
		router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	a := router.Group("/automations")
	a.Get("/", h.GetAutomations)
	a.Post("/", h.CreateAutomation)
	a.Post("/validate", h.ValidateGraph)
	a.Get("/:id", h.GetAutomation)
	a.Put("/:id", h.UpdateAutomation)
	a.Delete("/:id", h.DeleteAutomation)
	a.Post("/:id/activate", h.ActivateAutomation)
	a.Post("/:id/deactivate", h.DeactivateAutomation)
	a.Post("/:id/cancel-executions", h.CancelExecutions)
	a.Get("/:id/executions", h.GetAutomationExecutions)

	router.Get("/executions/:id", h.GetExecution)

	t := router.Group("/templates")
	t.Get("/", h.GetTemplates)
	t.Get("/:id", h.GetTemplate)
	t.Put("/:id", h.SaveTemplate)

	router.Post("/events", h.IngestEvent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.automations.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Cartflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Cartflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.automations.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"automations": automations,
		"total_count": len(automations),
	})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	automation, err := h.automations.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

// bindAutomation decodes and validates an automation body. Errors describe a bad request.
func (h *APIHandlers) bindAutomation(c fiber.Ctx) (*models.Automation, error) {
	var req AutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	g, err := resolveGraph(req.Graph, req.Editor)
	if err != nil {
		return nil, err
	}

	return &models.Automation{Name: req.Name, Description: req.Description, Graph: g}, nil
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	automation, err := h.bindAutomation(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.automations.Create(c.Context(), automation)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	automation, err := h.bindAutomation(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.automations.Update(c.Context(), c.Params("id"), automation)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	if err := h.automations.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateGraph(c fiber.Ctx) error {
	var req ValidateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	g, err := resolveGraph(req.Graph, req.Editor)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result := h.automations.Validate(g)

	return c.JSON(ValidationResponse{Valid: result.Valid(), Violations: result.Violations})
}

func (h *APIHandlers) ActivateAutomation(c fiber.Ctx) error {
	automation, err := h.automations.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) DeactivateAutomation(c fiber.Ctx) error {
	automation, err := h.automations.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) CancelExecutions(c fiber.Ctx) error {
	report, err := h.automations.CancelExecutions(c.Context(), c.Params("id"), c.Query("reason"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetAutomationExecutions(c fiber.Ctx) error {
	var statuses []models.ExecutionStatus

	if raw := c.Query("status"); raw != "" {
		for s := range strings.SplitSeq(raw, ",") {
			statuses = append(statuses, models.ExecutionStatus(strings.TrimSpace(s)))
		}
	}

	executions, err := h.automations.Executions(c.Context(), c.Params("id"), statuses...)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.automations.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templates.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"templates": templates})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	tmpl, err := h.templates.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tmpl)
}

func (h *APIHandlers) SaveTemplate(c fiber.Ctx) error {
	var req TemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.templates.Save(c.Context(), &models.MessageTemplate{
		ID:      c.Params("id"),
		Channel: req.Channel,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.ingest.Publish(c.Context(), req.toDomainEvent())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventAccepted{ID: event.ID, Status: "accepted"})
}
