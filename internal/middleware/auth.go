package middleware

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"

	"amayadori/pkg/auth"
)

// AuthMiddleware verifies anonymous identity tokens.
// Supports the Authorization header, a query parameter (WebSocket connects)
// and a form field (sendBeacon cannot set headers).
func AuthMiddleware(anonAuth *auth.AnonymousAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip auth if JWT secret is not configured (development mode ONLY)
		environment := os.Getenv("ENVIRONMENT")

		if anonAuth == nil {
			// CRITICAL: Never allow auth bypass in production
			if environment == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment. Authentication is required.")
			}

			// Only allow bypass in development/testing
			if environment != "development" && environment != "testing" && environment != "" {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Authentication service unavailable",
				})
			}

			log.Println("⚠️  Auth skipped: JWT not configured (development mode)")
			c.Locals("user_id", "dev-user")
			return c.Next()
		}

		// Try to extract token from multiple sources
		var token string

		// 1. Try Authorization header first
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			extractedToken, err := auth.ExtractToken(authHeader)
			if err == nil {
				token = extractedToken
			}
		}

		// 2. Try query parameter (for WebSocket connections)
		if token == "" {
			token = c.Query("token")
		}

		// 3. Try form field (for sendBeacon posts)
		if token == "" {
			token = c.FormValue("token")
		}

		// No token found
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		// Verify JWT token
		user, err := anonAuth.Verify(token)
		if err != nil {
			log.Printf("❌ Auth failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Store user info in context
		c.Locals("user_id", user.ID)
		return c.Next()
	}
}

// UserID returns the authenticated uid from the request context.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
