package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"amayadori/internal/middleware"
	"amayadori/internal/models"
	"amayadori/internal/services"
	"amayadori/internal/store"
)

// QueueHandler exposes the matching queue: admission, heartbeats, cancels.
type QueueHandler struct {
	entries *services.EntryService
}

func NewQueueHandler(entries *services.EntryService) *QueueHandler {
	return &QueueHandler{entries: entries}
}

type enterRequest struct {
	QueueKey string `json:"queueKey"`
	Nickname string `json:"nickname"`
	Profile  string `json:"profile"`
	Icon     string `json:"icon"`
}

// Enter handles POST /api/queue/enter.
func (h *QueueHandler) Enter(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var req enterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if !models.IsQueueKey(req.QueueKey) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "queueKey must be 'country' or 'global'",
		})
	}

	result, err := h.entries.Enter(c.Context(), uid, req.QueueKey, models.ProfileSnap{
		Nickname: req.Nickname,
		Profile:  req.Profile,
		Icon:     req.Icon,
	})
	if err != nil {
		log.Printf("❌ Queue enter failed for %s: %v", uid, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enter queue",
		})
	}
	return c.JSON(result)
}

// Get handles GET /api/queue/entries/:id (state polling).
func (h *QueueHandler) Get(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	entry, err := h.entries.Get(c.Context(), uid, c.Params("id"))
	if err != nil {
		return entryError(c, err)
	}
	return c.JSON(entry)
}

// Touch handles POST /api/queue/entries/:id/touch (heartbeat).
func (h *QueueHandler) Touch(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	entry, err := h.entries.Touch(c.Context(), uid, c.Params("id"))
	if err != nil {
		return entryError(c, err)
	}
	return c.JSON(entry)
}

// Cancel handles POST /api/queue/entries/:id/cancel.
func (h *QueueHandler) Cancel(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	entry, err := h.entries.Cancel(c.Context(), uid, c.Params("id"))
	if err != nil {
		return entryError(c, err)
	}
	if entry == nil {
		// Already gone; settled as far as the client cares.
		return c.JSON(fiber.Map{"ok": true})
	}
	return c.JSON(fiber.Map{"ok": true, "entry": entry})
}

// CancelAll handles POST /api/queue/cancel-all.
func (h *QueueHandler) CancelAll(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	n, err := h.entries.CancelAll(c.Context(), uid)
	if err != nil {
		log.Printf("❌ Bulk cancel failed for %s: %v", uid, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel entries",
		})
	}
	return c.JSON(fiber.Map{"ok": true, "canceled": n})
}

// Beacon handles POST /beacon/cancel. Same as CancelAll but reached through
// navigator.sendBeacon on page unload, which can only carry form data; the
// auth middleware picks the token out of the form field.
func (h *QueueHandler) Beacon(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	// Best effort: the page is going away, nobody reads the response.
	if _, err := h.entries.CancelAll(c.Context(), uid); err != nil {
		log.Printf("⚠️ Beacon cancel failed for %s: %v", uid, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func entryError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Entry not found"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Not your entry"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
