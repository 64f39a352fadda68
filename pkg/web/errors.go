package web

import (
	"errors"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/services"
	"github.com/dukex/claimflow/pkg/submission"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

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

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func unavailable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(503).
		WithInstance(c.Path()).
		WithType("unavailable").
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
	var validationErrors validator.ValidationErrors

	switch {
	case services.IsValidationError(err), errors.As(err, &validationErrors):
		return badRequest(c, err.Error())

	case errors.Is(err, models.ErrMalformedGraph):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("malformed_graph").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case services.IsConflictError(err),
		persistence.IsStatusConflict(err),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrWorkflowInactive),
		errors.Is(err, submission.ErrNotCancellable),
		errors.Is(err, submission.ErrNotRequeueable):
		return conflict(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case persistence.IsSubmissionNotFound(err):
		return notFound(c, "submission_not_found", "submission not found")

	case persistence.IsCredentialNotFound(err):
		return notFound(c, "credential_not_found", "credential not found")

	case persistence.IsNotFound(err):
		return notFound(c, "not_found", err.Error())

	default:
		// Log unexpected errors but don't expose details
		return internalError(c, err)
	}
}
