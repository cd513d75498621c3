// middleware/sse_auth.go
package middleware

import (
	"log"
	"strings"

	"reading-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

type contextKey string

const (
	UserIDContextKey    contextKey = "userID"
	UserRolesContextKey contextKey = "userRoles"
	DeviceIDContextKey  contextKey = "deviceID"
)

// SSEAuthMiddleware validates `token` and `device_id` from query params via
// the auth service. EventSource can't set headers, so SSE routes authenticate
// here instead of through the Gateway's user context.
//
// Usage:
//
//	app.Get("/user/tokens/stream", middleware.SSEAuthMiddleware(authClient), progressService.StreamUserTokensSSE)
func SSEAuthMiddleware(authClient *services.AuthServiceClient) func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("token")))
		deviceID := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("device_id")))

		if accessToken == "" || deviceID == "" {
			log.Printf("[SSEAuth] ❌ Missing query params on %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		resp, err := authClient.ValidateToken(accessToken, deviceID)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for device %s: %v", deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		// Attach to Fiber context (like UserContextMiddleware, but from query)
		c.Locals("user_id", resp.UserID)
		c.Locals(string(DeviceIDContextKey), resp.DeviceID)
		c.Locals("user_roles", resp.Roles)

		log.Printf("[SSEAuth] ✅ Authenticated user %s (device %s)", resp.UserID, resp.DeviceID)
		return c.Next()
	}
}
