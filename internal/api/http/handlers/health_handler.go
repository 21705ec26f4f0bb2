package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-channel/internal/persistence"
)

const readinessTimeout = 2 * time.Second

// SessionCounter reports live channel sessions.
type SessionCounter interface {
	SessionCount() int
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    *persistence.Postgres
	redis       *persistence.Redis
	sessions    SessionCounter
}

// NewHealthHandler returns a new handler instance. Disabled stores are
// reported but do not make the service unready.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, postgres: postgres, redis: redis, sessions: sessions}
}

// Live reports service liveness and the number of connected sessions.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.SessionCount()
	}
	return c.JSON(body)
}

type dependency struct {
	name    string
	enabled bool
	ping    func(context.Context) error
}

func dependencyStatus(ctx context.Context, dep dependency) (string, bool) {
	if !dep.enabled {
		return "disabled", true
	}
	if err := dep.ping(ctx); err != nil {
		return "unreachable", false
	}
	return "ok", true
}

// Ready pings the configured stores.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	deps := []dependency{
		{name: "postgres", enabled: h.postgres.Enabled(), ping: h.postgres.Ping},
		{name: "redis", enabled: h.redis.Enabled(), ping: h.redis.Ping},
	}
	statuses := fiber.Map{}
	ready := true
	for _, dep := range deps {
		status, ok := dependencyStatus(ctx, dep)
		statuses[dep.name] = status
		ready = ready && ok
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "one or more dependencies unavailable",
				"details": statuses,
			},
		})
	}
	body := fiber.Map{"status": "ready", "dependencies": statuses}
	if stats := h.postgres.Stats(); stats != nil {
		body["postgres_pool"] = stats
	}
	return c.JSON(body)
}
