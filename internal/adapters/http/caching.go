package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Handlers that set their own header win.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := string(c.Response().Header.Peek(fiber.HeaderCacheControl)); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health":
			ttl = "public, max-age=10"

		case path == "/metrics":
			ttl = "no-cache"

		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=3600"

		// Positions move every few seconds and are per-caller.
		case strings.HasPrefix(path, "/v1/drivers/"):
			ttl = "private, no-store"

		case strings.HasSuffix(path, "/signals"):
			ttl = "private, max-age=5"

		case strings.HasPrefix(path, "/v1/deliveries/"):
			ttl = "private, no-cache"

		case strings.HasPrefix(path, "/v1/"):
			ttl = "private, no-cache"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}
