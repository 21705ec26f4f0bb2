package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticket-channel/internal/api/http/handlers"
	"github.com/spec-kit/ticket-channel/internal/auth"
	"github.com/spec-kit/ticket-channel/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Channel        *handlers.ChannelHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	app.Get("/ws", cfg.AuthMiddleware.Handle, cfg.Channel.Upgrade, cfg.Channel.Handler())

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/messages", cfg.Tickets.ListMessages)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Post("/:id/resolve", auth.RequireAdmin(), cfg.Tickets.Resolve)
	tickets.Post("/:id/close", cfg.Tickets.Close)
	tickets.Get("/:id/history", cfg.Tickets.History)
}
