package middleware

import (
	"github.com/gofiber/fiber/v2"

	"amayadori/internal/config"
)

// AdminMiddleware checks if the authenticated user is on the admin
// allow-list. Anonymous identities have no roles, so the env list is the
// only source of admin rights.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("user_id").(string)
		if !ok || userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		if !cfg.IsAdmin(userID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		c.Locals("is_admin", true)
		return c.Next()
	}
}
