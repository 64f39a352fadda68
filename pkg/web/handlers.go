// Package web provides HTTP handlers and REST API endpoints for workflows,
// executions, the submission queue and portal credentials.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/portals"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/services"
	"github.com/dukex/claimflow/pkg/submission"
	"github.com/dukex/claimflow/pkg/vault"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Dependencies are the services behind the API. Vault and Publisher may be
// nil; their endpoints then answer 503.
type Dependencies struct {
	Workflows     *services.Workflow
	Executor      *workflow.Executor
	Queue         *submission.Queue
	Vault         *vault.Vault
	PortalConfigs persistence.PortalConfigRepository
	Strategies    *portals.Registry
	Publisher     eventbus.EventPublisher
	Registry      *registry.Registry
	Validator     *validator.Validate
}

type APIHandlers struct {
	workflowService *services.Workflow
	executor        *workflow.Executor
	queue           *submission.Queue
	vault           *vault.Vault
	portalConfigs   persistence.PortalConfigRepository
	strategies      *portals.Registry
	publisher       eventbus.EventPublisher
	registry        *registry.Registry
	validator       *validator.Validate
}

func NewAPIHandlers(deps Dependencies) *APIHandlers {
	return &APIHandlers{
		workflowService: deps.Workflows,
		executor:        deps.Executor,
		queue:           deps.Queue,
		vault:           deps.Vault,
		portalConfigs:   deps.PortalConfigs,
		strategies:      deps.Strategies,
		publisher:       deps.Publisher,
		registry:        deps.Registry,
		validator:       deps.Validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.Category = c.Query("category")

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return nil, err
		}

		req.Active = &active
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Claimflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Claimflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces the definition; counters are preserved.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), id, req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflowService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *APIHandlers) setActive(c fiber.Ctx, active bool) error {
	updated, err := h.workflowService.SetActive(c.Context(), c.Params("id"), active)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// GetNodeTypes lists the registered node handlers with their param schemas.
func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	handlers := h.registry.Handlers()

	nodeTypes := make([]fiber.Map, 0, len(handlers))
	for _, handler := range handlers {
		nodeTypes = append(nodeTypes, fiber.Map{
			"type":        handler.Type(),
			"name":        handler.Name(),
			"description": handler.Description(),
			"schema":      handler.Schema(),
		})
	}

	return c.JSON(nodeTypes)
}
