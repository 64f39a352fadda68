package web

import (
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/submission"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) EnqueueSubmission(c fiber.Ctx) error {
	var req submission.EnqueueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	item, err := h.queue.Enqueue(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

func (h *APIHandlers) ListSubmissions(c fiber.Ctx) error {
	items, err := h.queue.List(c.Context(), persistence.SubmissionFilter{
		Status: models.SubmissionStatus(c.Query("status")),
		CaseID: c.Query("case_id"),
		Target: c.Query("target"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	if items == nil {
		items = []*models.SubmissionQueueItem{}
	}

	return c.JSON(items)
}

func (h *APIHandlers) GetSubmission(c fiber.Ctx) error {
	item, err := h.queue.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(item)
}

func (h *APIHandlers) GetSubmissionHistory(c fiber.Ctx) error {
	history, err := h.queue.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if history == nil {
		history = []*models.SubmissionHistoryEntry{}
	}

	return c.JSON(history)
}

func (h *APIHandlers) CancelSubmission(c fiber.Ctx) error {
	item, err := h.queue.CancelSubmission(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(item)
}

func (h *APIHandlers) RequeueSubmission(c fiber.Ctx) error {
	item, err := h.queue.RequeueSubmission(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(item)
}

// ProcessQueue runs one queue cycle: at most one submission attempt.
func (h *APIHandlers) ProcessQueue(c fiber.Ctx) error {
	return c.JSON(h.queue.ProcessQueue(c.Context()))
}
