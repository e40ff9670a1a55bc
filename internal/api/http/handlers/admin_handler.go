package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/registry"
	"github.com/spec-kit/membership-bot/internal/service"
)

// AdminHandler exposes operator endpoints.
type AdminHandler struct {
	registry *registry.Registry
	verifier *service.VerifierService
	metrics  *observability.Metrics
}

// NewAdminHandler constructs handler.
func NewAdminHandler(reg *registry.Registry, verifier *service.VerifierService, metrics *observability.Metrics) *AdminHandler {
	return &AdminHandler{registry: reg, verifier: verifier, metrics: metrics}
}

// Registry handles GET /admin/registry.
func (h *AdminHandler) Registry(c *fiber.Ctx) error {
	records := h.registry.Snapshot()
	out := make([]fiber.Map, 0, len(records))
	for _, rec := range records {
		out = append(out, fiber.Map{
			"user_id":         rec.UserID,
			"registration_id": rec.RegistrationID,
			"communities":     rec.Communities,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// Metrics handles GET /admin/metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}

// ReloadRoster handles POST /admin/roster/reload.
func (h *AdminHandler) ReloadRoster(c *fiber.Ctx) error {
	if err := h.verifier.ReloadRoster(c.UserContext()); err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{
		"status":      "reloaded",
		"registrants": h.verifier.Roster().Len(),
	})
}
