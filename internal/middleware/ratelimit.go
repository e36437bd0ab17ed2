package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Queue admission limits (per user ID) - enter/cancel churn
	QueueMax        int
	QueueExpiration time.Duration

	// Message posting limits (per user ID)
	MessageMax        int
	MessageExpiration time.Duration

	// WebSocket/Connection limits (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec - generous for normal use
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Queue ops: 30/min. Heartbeats run every ~20s, so a waiting client
		// uses a fraction of this.
		QueueMax:        30,
		QueueExpiration: 1 * time.Minute,

		// Messages: 60/min = 1 per second sustained
		MessageMax:        60,
		MessageExpiration: 1 * time.Minute,

		// WebSocket: 20 connections/min in production
		WebSocketMax:        20,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.QueueMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_MESSAGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MessageMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_WEBSOCKET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WebSocketMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.WebSocketMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
// This is the first line of defense against abuse
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
		SkipFailedRequests:     false,
		SkipSuccessfulRequests: false,
	})
}

// QueueRateLimiter for queue admission endpoints (uses user ID)
func QueueRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.QueueMax,
		Expiration: config.QueueExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Use user ID if available, fall back to IP
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return "queue:" + userID
			}
			return "queue-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			userID, _ := c.Locals("user_id").(string)
			log.Printf("⚠️  [RATE-LIMIT] Queue limit reached for user: %s on %s", userID, c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many queue requests. Please wait before trying again.",
				"retry_after": int(config.QueueExpiration.Seconds()),
			})
		},
	})
}

// MessageRateLimiter for message posting (uses user ID)
func MessageRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.MessageMax,
		Expiration: config.MessageExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return "msg:" + userID
			}
			return "msg-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Message limit reached for: %v", c.Locals("user_id"))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Sending too fast. Please wait a moment.",
				"retry_after": int(config.MessageExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter for WebSocket connection attempts
func WebSocketRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.WebSocketMax,
		Expiration: config.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] WebSocket connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(config.WebSocketExpiration.Seconds()),
			})
		},
	})
}
