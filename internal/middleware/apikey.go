package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// APIKeyAuth returns middleware that checks the X-API-Key header against
// the configured key. An empty configured key disables the check.
func APIKeyAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}
		if c.Get("X-API-Key") != apiKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or missing API key"})
		}
		return c.Next()
	}
}
