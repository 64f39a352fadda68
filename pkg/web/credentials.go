package web

import (
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/vault"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) StoreCredential(c fiber.Ctx) error {
	if h.vault == nil {
		return unavailable(c, "Credential vault is not configured")
	}

	var req vault.StoreRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	credential, err := h.vault.StoreCredentials(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(credential)
}

// ListCredentials lists the credentials of ?target= with secrets withheld.
func (h *APIHandlers) ListCredentials(c fiber.Ctx) error {
	if h.vault == nil {
		return unavailable(c, "Credential vault is not configured")
	}

	target := c.Query("target")
	if target == "" {
		return badRequest(c, "target query parameter is required")
	}

	credentials, err := h.vault.ListCredentials(c.Context(), target)
	if err != nil {
		return handleServiceError(c, err)
	}

	if credentials == nil {
		credentials = []*vault.CredentialSummary{}
	}

	return c.JSON(credentials)
}

func (h *APIHandlers) TestCredential(c fiber.Ctx) error {
	if h.vault == nil {
		return unavailable(c, "Credential vault is not configured")
	}

	id := c.Params("id")

	status, err := h.vault.TestCredentials(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TestCredentialResponse{ID: id, ValidationStatus: status})
}

func (h *APIHandlers) DeleteCredential(c fiber.Ctx) error {
	if h.vault == nil {
		return unavailable(c, "Credential vault is not configured")
	}

	if err := h.vault.DeleteCredential(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListPortals(c fiber.Ctx) error {
	configs, err := h.portalConfigs.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	if configs == nil {
		configs = []*models.PortalConfig{}
	}

	return c.JSON(PortalsResponse{Configs: configs, Strategies: h.strategies.Targets()})
}

// SavePortal creates or replaces the config of :target.
func (h *APIHandlers) SavePortal(c fiber.Ctx) error {
	var config models.PortalConfig
	if err := c.Bind().JSON(&config); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	config.Target = c.Params("target")

	if err := h.validator.Struct(config); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.portalConfigs.Save(c.Context(), &config); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(config)
}
