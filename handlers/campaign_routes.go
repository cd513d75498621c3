// handlers/campaign_routes.go
package handlers

import (
	"reading-rewards-system/middleware"
	"reading-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCampaignRoutes(app *fiber.App, campaignService *services.CampaignService) {
	// 🔓 Public routes — no user context, but still behind Gateway auth
	app.Get("/campaigns", campaignService.GetActiveCampaigns)
	app.Get("/campaigns/:id", campaignService.GetCampaignByID)

	// 🔐 Admin routes — require user context with the admin role
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/campaigns", campaignService.CreateCampaign)
	admin.Get("/campaigns", campaignService.GetAllCampaigns)
	admin.Patch("/campaigns/:id/status", campaignService.UpdateCampaignStatus)
	admin.Post("/campaigns/:id/provision", campaignService.ProvisionEscrow)
	admin.Get("/chain/stats", campaignService.GetChainStats)
}
