package web

import (
	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// ExecuteWorkflow starts an execution. It answers 202 with the RUNNING
// execution, or 200 with the settled one when the body asks to wait.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if !req.Wait {
		execution, err := h.executor.StartWorkflow(c.Context(), id, req.Context)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.Status(fiber.StatusAccepted).JSON(execution)
	}

	executionID, runErr := h.executor.ExecuteWorkflow(c.Context(), id, req.Context)
	if executionID == "" {
		return handleServiceError(c, runErr)
	}

	// A node failure is recorded on the execution; report the execution.
	return h.respondExecution(c, executionID)
}

// RequestExecution publishes an execution request for a dispatcher to pick up.
func (h *APIHandlers) RequestExecution(c fiber.Ctx) error {
	if h.publisher == nil {
		return unavailable(c, "Event bus is not configured")
	}

	id := c.Params("id")

	var req RequestExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if _, err := h.workflowService.FetchByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	event := events.WorkflowExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, id),
		Context:     req.Context,
		RequestedBy: req.RequestedBy,
	}

	if err := h.publisher.Publish(c.Context(), id, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"request_id":  event.ID,
		"workflow_id": id,
	})
}

func (h *APIHandlers) ListWorkflowExecutions(c fiber.Ctx) error {
	executions, err := h.executor.ListExecutions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if executions == nil {
		executions = []*models.WorkflowExecution{}
	}

	return c.JSON(executions)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	return h.respondExecution(c, c.Params("id"))
}

func (h *APIHandlers) GetExecutionSteps(c fiber.Ctx) error {
	steps, err := h.executor.Steps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if steps == nil {
		steps = []*models.WorkflowExecutionStep{}
	}

	return c.JSON(steps)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	execution, err := h.executor.PauseExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	execution, err := h.executor.ResumeExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executor.CancelExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// ResumeDue resumes every execution whose wait has elapsed.
func (h *APIHandlers) ResumeDue(c fiber.Ctx) error {
	resumed, err := h.executor.ResumeDue(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"resumed": resumed})
}

func (h *APIHandlers) respondExecution(c fiber.Ctx, id string) error {
	execution, err := h.executor.GetExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	response := ExecutionResponse{WorkflowExecution: execution}

	if c.Query("include_steps") == "true" {
		steps, err := h.executor.Steps(c.Context(), id)
		if err != nil {
			return handleServiceError(c, err)
		}

		response.Steps = steps
	}

	return c.JSON(response)
}
