// handlers/reward_routes.go
package handlers

import (
	"reading-rewards-system/middleware"
	"reading-rewards-system/models"
	"reading-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRewardRoutes(app *fiber.App, progressService *services.RewardProgressService, authClient *services.AuthServiceClient) {
	// SSE stream authenticates via query params (EventSource can't set headers)
	if authClient != nil {
		app.Get("/user/tokens/stream", middleware.SSEAuthMiddleware(authClient), progressService.StreamUserTokensSSE)
	}

	// 🔐 Secured routes — require user context (userID), enforced via middleware
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/rewards/init", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		if err := progressService.InitializeUserRewards(userID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to initialize rewards"})
		}
		return c.JSON(fiber.Map{"message": "rewards initialized"})
	})

	// Activity services call this when a tracked metric changes.
	secured.Post("/rewards/check", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var req struct {
			Trigger  models.RewardTrigger `json:"trigger" validate:"required"`
			Value    int64                `json:"value" validate:"min=0"`
			Metadata map[string]string    `json:"metadata"`
		}
		if err := c.BodyParser(&req); err != nil || req.Trigger == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "trigger is required"})
		}

		earned, err := progressService.CheckProgress(c.Context(), userID, req.Trigger, req.Value, req.Metadata)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to check progress"})
		}
		return c.JSON(fiber.Map{"earned": earned})
	})

	secured.Get("/users/me/rewards", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		rewards, err := progressService.GetUserRewards(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch rewards"})
		}
		return c.JSON(rewards)
	})
}
