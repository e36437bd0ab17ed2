package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"amayadori/internal/services"
	"amayadori/internal/store"
)

// HealthHandler reports process and dependency health.
type HealthHandler struct {
	store   store.Store
	redis   *services.RedisService
	started time.Time
}

func NewHealthHandler(st store.Store, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{store: st, redis: redis, started: time.Now()}
}

// Health handles GET /health. Degraded dependencies flip the status but keep
// the 200 so load balancers don't pull a node that can still serve.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	deps := fiber.Map{}

	if err := h.store.Ping(c.Context()); err != nil {
		status = "degraded"
		deps["store"] = err.Error()
	} else {
		deps["store"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Context()); err != nil {
			status = "degraded"
			deps["redis"] = err.Error()
		} else {
			deps["redis"] = "ok"
		}
	} else {
		deps["redis"] = "disabled"
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"uptime_sec":   int(time.Since(h.started).Seconds()),
		"dependencies": deps,
	})
}
