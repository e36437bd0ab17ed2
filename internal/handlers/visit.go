package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"amayadori/internal/middleware"
	"amayadori/internal/services"
	"amayadori/internal/store"
)

// VisitHandler records daily visit counters.
type VisitHandler struct {
	store store.Store
	redis *services.RedisService
	stats *services.StatsService
}

func NewVisitHandler(st store.Store, redis *services.RedisService, stats *services.StatsService) *VisitHandler {
	return &VisitHandler{store: st, redis: redis, stats: stats}
}

// Track handles POST /api/track/visit. Every call counts a visit; the first
// call per user per KPI day also counts a unique visit. Redis answers the
// first-today question cheaply, the visitors collection is the durable
// fallback when Redis is down.
func (h *VisitHandler) Track(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	now := time.Now()
	day := h.stats.KPIDay(now)

	first := false
	decided := false
	if h.redis != nil {
		ok, err := h.redis.MarkVisitorOnce(c.Context(), day, uid, 48*time.Hour)
		if err == nil {
			first, decided = ok, true
		} else {
			log.Printf("⚠️ Visit dedup via redis failed for %s: %v", uid, err)
		}
	}
	if !decided {
		ok, err := h.store.MarkVisitor(c.Context(), day, uid, now)
		if err != nil {
			log.Printf("⚠️ Visit record failed for %s: %v", uid, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record visit",
			})
		}
		first = ok
	} else if first {
		// Keep the durable record in sync with the Redis decision.
		if _, err := h.store.MarkVisitor(c.Context(), day, uid, now); err != nil {
			log.Printf("⚠️ Visit record failed for %s: %v", uid, err)
		}
	}

	h.stats.CountVisit(c.Context(), first, now)
	return c.JSON(fiber.Map{"ok": true, "firstToday": first})
}
