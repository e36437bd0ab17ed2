package handlers

import (
	"github.com/gofiber/fiber/v2"

	"amayadori/pkg/auth"
)

// AuthHandler mints anonymous identities.
type AuthHandler struct {
	anonAuth *auth.AnonymousAuth
}

func NewAuthHandler(anonAuth *auth.AnonymousAuth) *AuthHandler {
	return &AuthHandler{anonAuth: anonAuth}
}

// Anon handles POST /api/auth/anon. Every call is a fresh identity; clients
// keep the token for the session and simply mint again when it expires.
func (h *AuthHandler) Anon(c *fiber.Ctx) error {
	uid, token, err := h.anonAuth.Issue()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue identity",
		})
	}
	return c.JSON(fiber.Map{
		"uid":   uid,
		"token": token,
	})
}
