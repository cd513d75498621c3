// services/campaign_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"reading-rewards-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// EscrowProvisioner is the slice of the NFT gateway campaign provisioning
// drives.
type EscrowProvisioner interface {
	BatchMintToEscrow(ctx context.Context, escrowAddress string, quantity int64, metadataURI string) (*IssuanceResult, error)
	GetStats(ctx context.Context) (*ChainStats, error)
}

type CampaignService struct {
	DB       *gorm.DB
	Chain    EscrowProvisioner
	Metadata MetadataStore
}

func NewCampaignService(db *gorm.DB, chain EscrowProvisioner, metadata MetadataStore) *CampaignService {
	return &CampaignService{DB: db, Chain: chain, Metadata: metadata}
}

// --- Admin Handlers ---

// CreateCampaign creates a new campaign in draft (Admin only)
func (s *CampaignService) CreateCampaign(c *fiber.Ctx) error {
	var req struct {
		BrandID         string                  `json:"brand_id" validate:"required"`
		Name            string                  `json:"name" validate:"required"`
		Description     string                  `json:"description"`
		ImageURL        string                  `json:"image_url"`
		Type            models.CampaignType     `json:"type" validate:"required,oneof=reward access phygital achievement"`
		TotalSupply     int64                   `json:"total_supply"`
		UnlimitedSupply bool                    `json:"unlimited_supply"`
		Eligibility     models.EligibilityRule  `json:"eligibility"`
		Distribution    models.DistributionMode `json:"distribution"`
		EscrowWallet    string                  `json:"escrow_wallet"`
		TokenCategory   string                  `json:"token_category"`
		TokenRarity     string                  `json:"token_rarity"`
		TokenBenefits   map[string]string       `json:"token_benefits"`
		StartAt         *time.Time              `json:"start_at"`
		EndAt           *time.Time              `json:"end_at"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Name == "" || req.BrandID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and brand_id are required"})
	}
	if !req.UnlimitedSupply && req.TotalSupply <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "total_supply must be positive unless unlimited_supply is set"})
	}

	distribution := req.Distribution
	if distribution == "" {
		distribution = models.DistributionMintOnDemand
	}
	if distribution == models.DistributionPremint && req.EscrowWallet == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "escrow_wallet is required for pre-minted campaigns"})
	}
	if distribution == models.DistributionPremint && req.UnlimitedSupply {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "pre-minted campaigns cannot have unlimited supply"})
	}

	rarity := req.TokenRarity
	if rarity == "" {
		rarity = "common"
	}

	campaign := &models.Campaign{
		ID:              uuid.NewString(),
		BrandID:         req.BrandID,
		Name:            req.Name,
		Slug:            fmt.Sprintf("%s-%s", slug.Make(req.Name), uuid.NewString()[:8]),
		Description:     req.Description,
		ImageURL:        req.ImageURL,
		Type:            req.Type,
		Status:          models.CampaignStatusDraft,
		TotalSupply:     req.TotalSupply,
		UnlimitedSupply: req.UnlimitedSupply,
		Eligibility:     req.Eligibility,
		Distribution:    distribution,
		EscrowWallet:    req.EscrowWallet,
		TokenCategory:   req.TokenCategory,
		TokenRarity:     rarity,
		TokenBenefits:   req.TokenBenefits,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
	}

	if err := s.DB.Create(campaign).Error; err != nil {
		log.Printf("DB Error creating campaign: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create campaign"})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// UpdateCampaignStatus moves a campaign through its lifecycle (Admin only).
// Counters and eligibility are never touched here.
func (s *CampaignService) UpdateCampaignStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid campaign ID"})
	}

	var req struct {
		Status models.CampaignStatus `json:"status" validate:"required,oneof=draft active paused completed cancelled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	switch req.Status {
	case models.CampaignStatusDraft, models.CampaignStatusActive, models.CampaignStatusPaused,
		models.CampaignStatusCompleted, models.CampaignStatusCancelled:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status"})
	}

	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if req.Status == models.CampaignStatusActive &&
		campaign.Distribution == models.DistributionPremint {
		// A pre-minted campaign can't go live before its escrow inventory
		// exists.
		var available int64
		s.DB.Model(&models.EscrowToken{}).
			Where("campaign_id = ?", campaign.ID).
			Count(&available)
		if available == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "campaign has no pre-minted tokens — provision escrow first",
			})
		}
	}

	campaign.Status = req.Status
	if err := s.DB.Save(&campaign).Error; err != nil {
		log.Printf("DB Error updating campaign status: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update status"})
	}

	return c.JSON(fiber.Map{"message": "Campaign status updated", "campaign": campaign})
}

// ProvisionEscrow batch-mints the campaign's supply into its escrow wallet
// and records one inventory row per minted token (Admin only). A pending
// chain outcome is reported as such — inventory is only recorded once the
// mint is confirmed.
func (s *CampaignService) ProvisionEscrow(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid campaign ID"})
	}

	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if campaign.Distribution != models.DistributionPremint {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "campaign is not pre-minted"})
	}
	if campaign.MintedCount > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "campaign escrow already provisioned"})
	}

	metadataURL := ""
	if s.Metadata != nil {
		key := fmt.Sprintf("metadata/%s/collection.json", campaign.Slug)
		if url, err := s.Metadata.UploadJSON(c.Context(), key, map[string]interface{}{
			"name":        campaign.Name,
			"description": campaign.Description,
			"image":       campaign.ImageURL,
		}); err != nil {
			log.Printf("⚠️ Collection metadata upload failed for campaign %s: %v", campaign.ID, err)
		} else {
			metadataURL = url
		}
	}

	result, err := s.Chain.BatchMintToEscrow(c.Context(), campaign.EscrowWallet, campaign.TotalSupply, metadataURL)
	if err != nil {
		log.Printf("❌ Escrow provisioning failed for campaign %s: %v", campaign.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	if result.Pending {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": "batch mint submitted but unconfirmed — reconcile later",
			"tx_hash": result.TxHash,
		})
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		for _, chainTokenID := range result.TokenIDs {
			escrow := models.EscrowToken{
				ID:           uuid.NewString(),
				CampaignID:   campaign.ID,
				ChainTokenID: chainTokenID,
				Status:       models.EscrowTokenAvailable,
			}
			if err := tx.Create(&escrow).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Campaign{}).
			Where("id = ?", campaign.ID).
			Update("minted_count", gorm.Expr("minted_count + ?", len(result.TokenIDs))).Error
	})
	if err != nil {
		log.Printf("DB Error recording escrow inventory for campaign %s: %v", campaign.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record escrow inventory"})
	}

	log.Printf("✅ Provisioned %d escrow tokens for campaign %s (tx %s)", len(result.TokenIDs), campaign.ID, result.TxHash)
	return c.JSON(fiber.Map{
		"message":   "escrow provisioned",
		"tx_hash":   result.TxHash,
		"token_ids": result.TokenIDs,
	})
}

// GetAllCampaigns lists campaigns, optionally filtered by status (Admin only)
func (s *CampaignService) GetAllCampaigns(c *fiber.Ctx) error {
	query := s.DB.Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var campaigns []models.Campaign
	if err := query.Find(&campaigns).Error; err != nil {
		log.Printf("DB Error fetching campaigns: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch campaigns"})
	}
	return c.JSON(campaigns)
}

// GetActiveCampaigns lists claimable campaigns (public view)
func (s *CampaignService) GetActiveCampaigns(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	if err := s.DB.Where("status = ?", models.CampaignStatusActive).
		Order("created_at DESC").
		Find(&campaigns).Error; err != nil {
		log.Printf("DB Error fetching active campaigns: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch campaigns"})
	}
	return c.JSON(campaigns)
}

// GetCampaignByID returns one campaign with its claim counts
func (s *CampaignService) GetCampaignByID(c *fiber.Ctx) error {
	id := c.Params("id")

	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(campaign)
}

// GetChainStats proxies the contract's aggregate counters (Admin only)
func (s *CampaignService) GetChainStats(c *fiber.Ctx) error {
	stats, err := s.Chain.GetStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(stats)
}
