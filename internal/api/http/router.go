package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-bot/internal/api/http/handlers"
	"github.com/spec-kit/membership-bot/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	webhook := app.Group("/webhook", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeWebhook))
	webhook.Post("/events", cfg.Webhook.HandleDelivery)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeAdmin))
	admin.Get("/registry", cfg.Admin.Registry)
	admin.Get("/metrics", cfg.Admin.Metrics)
	admin.Post("/roster/reload", cfg.Admin.ReloadRoster)
}
