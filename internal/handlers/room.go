package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"amayadori/internal/middleware"
	"amayadori/internal/models"
	"amayadori/internal/services"
	"amayadori/internal/store"
)

// RoomHandler exposes room lifecycle and messaging.
type RoomHandler struct {
	rooms    *services.RoomService
	starters *services.StarterService
}

func NewRoomHandler(rooms *services.RoomService, starters *services.StarterService) *RoomHandler {
	return &RoomHandler{rooms: rooms, starters: starters}
}

type ownerRoomRequest struct {
	Nickname string `json:"nickname"`
	Profile  string `json:"profile"`
	Icon     string `json:"icon"`
}

// StartOwner handles POST /api/rooms/owner.
func (h *RoomHandler) StartOwner(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var req ownerRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	room, err := h.rooms.StartOwnerRoom(c.Context(), uid, models.ProfileSnap{
		Nickname: req.Nickname,
		Profile:  req.Profile,
		Icon:     req.Icon,
	})
	if err != nil {
		log.Printf("❌ Owner room start failed for %s: %v", uid, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to open room",
		})
	}
	return c.JSON(room)
}

// Get handles GET /api/rooms/:id.
func (h *RoomHandler) Get(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	room, err := h.rooms.Get(c.Context(), uid, c.Params("id"))
	if err != nil {
		return roomError(c, err)
	}
	return c.JSON(room)
}

// Leave handles POST /api/rooms/:id/leave.
func (h *RoomHandler) Leave(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	room, err := h.rooms.Leave(c.Context(), uid, c.Params("id"))
	if err != nil {
		return roomError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "room": room})
}

type postMessageRequest struct {
	Body string `json:"body"`
}

// PostMessage handles POST /api/rooms/:id/messages.
func (h *RoomHandler) PostMessage(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	msg, err := h.rooms.PostMessage(c.Context(), uid, c.Params("id"), req.Body)
	if err != nil {
		if errors.Is(err, services.ErrRoomClosed) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Room is closed"})
		}
		return roomError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ListMessages handles GET /api/rooms/:id/messages?after=RFC3339&limit=n.
func (h *RoomHandler) ListMessages(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var after time.Time
	if raw := c.Query("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "after must be RFC3339",
			})
		}
		after = parsed
	}

	msgs, err := h.rooms.ListMessages(c.Context(), uid, c.Params("id"), after, c.QueryInt("limit"))
	if err != nil {
		return roomError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// Starters handles GET /api/rooms/:id/starters. Membership gates it, the
// suggestions themselves are not room-specific.
func (h *RoomHandler) Starters(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	if _, err := h.rooms.Get(c.Context(), uid, c.Params("id")); err != nil {
		return roomError(c, err)
	}
	return c.JSON(fiber.Map{"starters": h.starters.Pick(3)})
}

func roomError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Room not found"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Not a member of this room"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
