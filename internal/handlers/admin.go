package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"amayadori/internal/models"
	"amayadori/internal/services"
)

// AdminHandler serves the KPI read API and runtime config updates. Routes are
// behind the admin middleware.
type AdminHandler struct {
	stats   *services.StatsService
	weather *services.WeatherService
}

func NewAdminHandler(stats *services.StatsService, weather *services.WeatherService) *AdminHandler {
	return &AdminHandler{stats: stats, weather: weather}
}

// DailyMetrics handles GET /api/admin/metrics/:day. Day defaults to today in
// the KPI timezone when the param is "today".
func (h *AdminHandler) DailyMetrics(c *fiber.Ctx) error {
	day := c.Params("day")
	if day == "today" {
		day = h.stats.KPIDay(time.Now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "day must be YYYY-MM-DD",
		})
	}

	ds, err := h.stats.ReadDaily(c.Context(), day)
	if err != nil {
		log.Printf("❌ Daily metrics read failed for %s: %v", day, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read metrics",
		})
	}
	return c.JSON(ds)
}

type runtimeConfigRequest struct {
	WeatherMode string `json:"weatherMode"`
	CooldownSec int    `json:"cooldownSec"`
}

// GetConfig handles GET /api/admin/config.
func (h *AdminHandler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(h.weather.RuntimeConfig(c.Context()))
}

// PutConfig handles PUT /api/admin/config.
func (h *AdminHandler) PutConfig(c *fiber.Ctx) error {
	var req runtimeConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if !models.ValidWeatherMode(req.WeatherMode) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "weatherMode must be 'off', 'log' or 'enforce'",
		})
	}
	if req.CooldownSec < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "cooldownSec must not be negative",
		})
	}

	rc := models.RuntimeConfig{
		ID:          models.RuntimeConfigID,
		WeatherMode: req.WeatherMode,
		CooldownSec: req.CooldownSec,
	}
	if err := h.weather.UpdateRuntimeConfig(c.Context(), rc); err != nil {
		log.Printf("❌ Runtime config update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update config",
		})
	}
	log.Printf("✅ Runtime config updated: mode=%s cooldown=%ds", req.WeatherMode, req.CooldownSec)
	return c.JSON(rc)
}
