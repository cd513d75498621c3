// handlers/claim_routes.go
package handlers

import (
	"errors"
	"log"

	"reading-rewards-system/middleware"
	"reading-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// claimErrorStatus maps the claim pipeline's rejection taxonomy onto HTTP
// statuses. Anything outside the taxonomy is a 500.
func claimErrorStatus(err error) (int, string) {
	var notEligible *services.NotEligibleError
	switch {
	case errors.Is(err, services.ErrCampaignNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrCampaignNotActive),
		errors.Is(err, services.ErrWalletRequired):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrAlreadyClaimed):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrNoSupplyRemaining):
		return fiber.StatusGone, err.Error()
	case errors.As(err, &notEligible):
		return fiber.StatusForbidden, notEligible.Error()
	case errors.Is(err, services.ErrIssuanceFailed):
		return fiber.StatusBadGateway, err.Error()
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}

func SetupClaimRoutes(app *fiber.App, claimService *services.ClaimService, userService *services.UserService) {
	// 🔐 Secured routes — require user context (userID), enforced via middleware
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/campaigns/:id/eligibility", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		decision, err := claimService.GetEligibility(c.Context(), c.Params("id"), userID)
		if err != nil {
			status, msg := claimErrorStatus(err)
			return c.Status(status).JSON(fiber.Map{"error": msg})
		}
		return c.JSON(decision)
	})

	secured.Post("/campaigns/:id/claim", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		claim, err := claimService.SubmitClaim(c.Context(), c.Params("id"), userID)
		if err != nil {
			status, msg := claimErrorStatus(err)
			if status == fiber.StatusInternalServerError {
				log.Printf("❌ Claim submission failed for user %s: %v", userID, err)
			}
			// A failed-issuance claim row still comes back so the client can
			// show what happened and offer a retry.
			if claim != nil {
				return c.Status(status).JSON(fiber.Map{"error": msg, "claim": claim})
			}
			return c.Status(status).JSON(fiber.Map{"error": msg})
		}
		return c.Status(fiber.StatusCreated).JSON(claim)
	})

	secured.Get("/users/me/claims", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		claims, err := claimService.GetUserClaims(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch claims"})
		}
		return c.JSON(claims)
	})

	secured.Get("/users/me/tokens", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		tokens, err := claimService.GetUserTokens(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch tokens"})
		}
		return c.JSON(tokens)
	})

	secured.Post("/tokens/:id/redeem", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		token, err := claimService.RedeemToken(c.Context(), c.Params("id"), userID)
		if err != nil {
			if errors.Is(err, services.ErrIssuanceFailed) {
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(token)
	})

	secured.Post("/claims/:id/redemption", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var req struct {
			ShippingAddress string `json:"shipping_address" validate:"required"`
		}
		if err := c.BodyParser(&req); err != nil || req.ShippingAddress == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "shipping_address is required"})
		}
		claim, err := claimService.RequestRedemption(c.Params("id"), userID, req.ShippingAddress)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(claim)
	})

	secured.Put("/users/me/wallet", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var req struct {
			WalletAddress string `json:"wallet_address" validate:"required"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		user, err := userService.UpdateWallet(userID, req.WalletAddress)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(user)
	})
}
