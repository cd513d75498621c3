// services/claim_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"reading-rewards-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Rejection taxonomy — normal decision outcomes, surfaced to the caller with
// a machine-checkable reason, never a crash.
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignNotActive = errors.New("campaign is not active")
	ErrNoSupplyRemaining = errors.New("no NFTs remaining for this campaign")
	ErrAlreadyClaimed    = errors.New("already claimed this campaign")
	ErrWalletRequired    = errors.New("wallet address required — register a wallet before claiming")
	// ErrIssuanceFailed wraps a chain failure recorded on the claim. The
	// claim row carries the detail; supply counters stay untouched so the
	// unit can be reclaimed by a later attempt.
	ErrIssuanceFailed = errors.New("reward issuance failed")
)

// NotEligibleError carries the per-rule human-readable reason.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return "not eligible: " + e.Reason
}

// ChainIssuer is the slice of the NFT gateway the orchestrator drives.
type ChainIssuer interface {
	Mint(ctx context.Context, toAddress, metadataURI string) (*IssuanceResult, error)
	TransferFromEscrow(ctx context.Context, escrowAddress, toAddress, chainTokenID string) (*IssuanceResult, error)
	Redeem(ctx context.Context, chainTokenID string) (*IssuanceResult, error)
}

// MetadataStore hosts token metadata JSON and returns a public URL.
type MetadataStore interface {
	UploadJSON(ctx context.Context, key string, v interface{}) (string, error)
}

// ClaimService is the state machine that turns a claim request into an
// issued token: validate → reserve → issue on-chain → commit or roll back.
type ClaimService struct {
	DB          *gorm.DB
	Eligibility *EligibilityService
	Users       *UserService
	Chain       ChainIssuer
	Metadata    MetadataStore // optional; mints proceed without a tokenURI when nil

	// Per-campaign locks serialize issuance within one campaign (escrow
	// reservation + counter advance) without blocking other campaigns.
	// The DB constraints remain the backstop for anything that races past.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewClaimService(db *gorm.DB, eligibility *EligibilityService, users *UserService, chain ChainIssuer, metadata MetadataStore) *ClaimService {
	return &ClaimService{
		DB:          db,
		Eligibility: eligibility,
		Users:       users,
		Chain:       chain,
		Metadata:    metadata,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *ClaimService) lockCampaign(campaignID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[campaignID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[campaignID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// isDuplicateKey detects a uniqueness-constraint violation across the
// drivers we run on (pgx in production, sqlite in tests).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

// supplyRemaining charges every live (non-failed) claim against a finite
// supply. claimed_count alone is not enough here: it only advances at
// settlement, so a pending-confirmation claim would not hold its unit.
func (s *ClaimService) supplyRemaining(campaign *models.Campaign) (bool, error) {
	if campaign.UnlimitedSupply {
		return true, nil
	}
	var live int64
	err := s.DB.Model(&models.Claim{}).
		Where("campaign_id = ? AND status <> ?", campaign.ID, models.ClaimStatusFailed).
		Count(&live).Error
	if err != nil {
		return false, err
	}
	return live < campaign.TotalSupply, nil
}

// GetEligibility runs the same precondition + rule checks a claim would,
// without any side effect.
func (s *ClaimService) GetEligibility(ctx context.Context, campaignID, userID string) (*EligibilityDecision, error) {
	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}

	if campaign.Status != models.CampaignStatusActive {
		return &EligibilityDecision{Eligible: false, Reason: ErrCampaignNotActive.Error()}, nil
	}
	remaining, err := s.supplyRemaining(&campaign)
	if err != nil {
		return nil, err
	}
	if !remaining {
		return &EligibilityDecision{Eligible: false, Reason: ErrNoSupplyRemaining.Error()}, nil
	}

	var live int64
	if err := s.DB.Model(&models.Claim{}).
		Where("campaign_id = ? AND user_id = ? AND status <> ?", campaignID, userID, models.ClaimStatusFailed).
		Count(&live).Error; err != nil {
		return nil, err
	}
	if live > 0 {
		return &EligibilityDecision{Eligible: false, Reason: ErrAlreadyClaimed.Error()}, nil
	}

	decision := s.Eligibility.Evaluate(ctx, userID, &campaign)
	return &decision, nil
}

// SubmitClaim runs the full claim procedure for one (campaign, user) pair.
// A failed claim is terminal for this invocation — no automatic retry; the
// user may submit again, which starts the whole procedure over.
func (s *ClaimService) SubmitClaim(ctx context.Context, campaignID, userID string) (*models.Claim, error) {
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}

	if campaign.Status != models.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}
	remaining, err := s.supplyRemaining(&campaign)
	if err != nil {
		return nil, err
	}
	if !remaining {
		return nil, ErrNoSupplyRemaining
	}

	decision := s.Eligibility.Evaluate(ctx, userID, &campaign)
	if !decision.Eligible {
		return nil, &NotEligibleError{Reason: decision.Reason}
	}

	user, err := s.Users.FindByUserID(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrWalletRequired
		}
		return nil, err
	}
	if user.WalletAddress == "" {
		return nil, ErrWalletRequired
	}

	// Reservation: pending claim + off-chain token (template copied from
	// the campaign), and for pre-minted campaigns the escrow token, all in
	// one transaction. The partial unique index on live claims resolves
	// any duplicate race the reads above missed.
	token := &models.Token{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       campaign.Name,
		Category:   campaign.TokenCategory,
		Rarity:     campaign.TokenRarity,
		Benefits:   campaign.TokenBenefits,
		CampaignID: &campaign.ID,
	}
	claim := &models.Claim{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		UserID:     userID,
		Status:     models.ClaimStatusPending,
		TokenID:    &token.ID,
	}

	var escrow *models.EscrowToken
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(token).Error; err != nil {
			return err
		}
		if err := tx.Create(claim).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrAlreadyClaimed
			}
			return err
		}

		if campaign.Distribution == models.DistributionPremint {
			var candidate models.EscrowToken
			if err := tx.Where("campaign_id = ? AND status = ?", campaign.ID, models.EscrowTokenAvailable).
				Order("created_at ASC").
				First(&candidate).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNoSupplyRemaining
				}
				return err
			}
			// Conditional reserve: guards against anything that slipped
			// past the per-campaign lock.
			res := tx.Model(&models.EscrowToken{}).
				Where("id = ? AND status = ?", candidate.ID, models.EscrowTokenAvailable).
				Updates(map[string]interface{}{
					"status":   models.EscrowTokenReserved,
					"claim_id": claim.ID,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNoSupplyRemaining
			}
			escrow = &candidate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch campaign.Distribution {
	case models.DistributionPremint:
		return s.issueFromEscrow(ctx, &campaign, claim, token, escrow, user.WalletAddress)
	default:
		return s.issueByMint(ctx, &campaign, claim, token, user.WalletAddress)
	}
}

// issueFromEscrow drives the escrow-transfer branch for pre-minted
// (phygital) campaigns.
func (s *ClaimService) issueFromEscrow(ctx context.Context, campaign *models.Campaign, claim *models.Claim, token *models.Token, escrow *models.EscrowToken, wallet string) (*models.Claim, error) {
	result, chainErr := s.Chain.TransferFromEscrow(ctx, campaign.EscrowWallet, wallet, escrow.ChainTokenID)
	if chainErr != nil {
		if err := s.failClaim(claim, escrow, chainErr); err != nil {
			return nil, err
		}
		return claim, fmt.Errorf("%w: %v", ErrIssuanceFailed, chainErr)
	}

	if result.Pending {
		if err := s.markPending(claim, result.TxHash, escrow.ChainTokenID); err != nil {
			return nil, err
		}
		return claim, nil
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		claim.Status = models.ClaimStatusTransferred
		claim.ChainTokenID = escrow.ChainTokenID
		claim.TxHash = result.TxHash
		claim.ClaimedAt = &now
		if err := tx.Save(claim).Error; err != nil {
			return err
		}

		token.OnChain = true
		token.ChainTokenID = escrow.ChainTokenID
		token.TxHash = result.TxHash
		token.BlockNumber = result.BlockNumber
		if err := tx.Save(token).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.EscrowToken{}).
			Where("id = ?", escrow.ID).
			Update("status", models.EscrowTokenTransferred).Error; err != nil {
			return err
		}

		return s.advanceCounters(tx, campaign, false)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Claim %s transferred token %s (campaign %s → %s)", claim.ID, escrow.ChainTokenID, campaign.ID, claim.UserID)
	return claim, nil
}

// issueByMint drives the mint-on-demand branch.
func (s *ClaimService) issueByMint(ctx context.Context, campaign *models.Campaign, claim *models.Claim, token *models.Token, wallet string) (*models.Claim, error) {
	metadataURL := s.uploadMetadata(ctx, campaign, token)

	result, chainErr := s.Chain.Mint(ctx, wallet, metadataURL)
	if chainErr != nil {
		if err := s.failClaim(claim, nil, chainErr); err != nil {
			return nil, err
		}
		return claim, fmt.Errorf("%w: %v", ErrIssuanceFailed, chainErr)
	}

	if result.Pending {
		if err := s.markPending(claim, result.TxHash, ""); err != nil {
			return nil, err
		}
		return claim, nil
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		claim.Status = models.ClaimStatusClaimed
		claim.ChainTokenID = result.TokenID
		claim.TxHash = result.TxHash
		claim.ClaimedAt = &now
		if err := tx.Save(claim).Error; err != nil {
			return err
		}

		token.OnChain = true
		token.ChainTokenID = result.TokenID
		token.TxHash = result.TxHash
		token.BlockNumber = result.BlockNumber
		token.MetadataURL = metadataURL
		if err := tx.Save(token).Error; err != nil {
			return err
		}

		return s.advanceCounters(tx, campaign, true)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Claim %s minted token %s (campaign %s → %s)", claim.ID, result.TokenID, campaign.ID, claim.UserID)
	return claim, nil
}

// advanceCounters bumps the campaign counters atomically with the claim
// commit. The supply guard is re-applied at write time: with per-campaign
// serialization it can only trip if someone mutated the row out-of-band,
// in which case the whole commit rolls back.
func (s *ClaimService) advanceCounters(tx *gorm.DB, campaign *models.Campaign, minted bool) error {
	updates := map[string]interface{}{
		"claimed_count":     gorm.Expr("claimed_count + 1"),
		"completions_count": gorm.Expr("completions_count + 1"),
	}
	if minted {
		updates["minted_count"] = gorm.Expr("minted_count + 1")
	}
	res := tx.Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Where("unlimited_supply = ? OR claimed_count < total_supply", true).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoSupplyRemaining
	}
	return nil
}

// failClaim records a terminal chain failure. Supply counters stay
// untouched and a reserved escrow token is released, so the unit can be
// claimed again later.
func (s *ClaimService) failClaim(claim *models.Claim, escrow *models.EscrowToken, cause error) error {
	log.Printf("❌ Claim %s failed: %v", claim.ID, cause)
	return s.DB.Transaction(func(tx *gorm.DB) error {
		claim.Status = models.ClaimStatusFailed
		claim.ErrorMessage = cause.Error()
		if err := tx.Save(claim).Error; err != nil {
			return err
		}
		if escrow != nil {
			return tx.Model(&models.EscrowToken{}).
				Where("id = ?", escrow.ID).
				Updates(map[string]interface{}{
					"status":   models.EscrowTokenAvailable,
					"claim_id": nil,
				}).Error
		}
		return nil
	})
}

// markPending records the submitted-but-unconfirmed state. The reconcile
// worker settles it once a receipt appears.
func (s *ClaimService) markPending(claim *models.Claim, txHash, chainTokenID string) error {
	log.Printf("⏳ Claim %s pending confirmation (tx %s)", claim.ID, txHash)
	claim.TxHash = txHash
	claim.ChainTokenID = chainTokenID
	return s.DB.Save(claim).Error
}

// uploadMetadata hosts the token metadata JSON for the mint's tokenURI.
// Best-effort: a storage hiccup shouldn't block issuance.
func (s *ClaimService) uploadMetadata(ctx context.Context, campaign *models.Campaign, token *models.Token) string {
	if s.Metadata == nil {
		return ""
	}
	key := fmt.Sprintf("metadata/%s/%s.json", campaign.Slug, token.ID)
	url, err := s.Metadata.UploadJSON(ctx, key, map[string]interface{}{
		"name":        token.Name,
		"description": campaign.Description,
		"image":       campaign.ImageURL,
		"attributes": []map[string]string{
			{"trait_type": "category", "value": token.Category},
			{"trait_type": "rarity", "value": token.Rarity},
		},
	})
	if err != nil {
		log.Printf("⚠️ Metadata upload failed for token %s: %v", token.ID, err)
		return ""
	}
	return url
}

// GetUserClaims lists a user's claims, newest first.
func (s *ClaimService) GetUserClaims(userID string) ([]models.Claim, error) {
	var claims []models.Claim
	err := s.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&claims).Error
	return claims, err
}

// GetUserTokens lists a user's issued tokens, newest first.
func (s *ClaimService) GetUserTokens(userID string) ([]models.Token, error) {
	var tokens []models.Token
	err := s.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&tokens).Error
	return tokens, err
}

// RedeemToken marks a token consumed, on-chain first when it lives there.
func (s *ClaimService) RedeemToken(ctx context.Context, tokenID, userID string) (*models.Token, error) {
	var token models.Token
	if err := s.DB.Where("id = ? AND user_id = ?", tokenID, userID).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("token not found or not owned by user")
		}
		return nil, err
	}
	if token.Redeemed {
		return nil, fmt.Errorf("token already redeemed")
	}
	if token.RedeemTxHash != "" {
		return nil, fmt.Errorf("token redemption pending confirmation")
	}

	if token.OnChain {
		result, err := s.Chain.Redeem(ctx, token.ChainTokenID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
		}
		if result.Pending {
			// Not redeemed until the transaction confirms. The reconcile
			// worker flips the flag once a receipt appears.
			token.RedeemTxHash = result.TxHash
			if err := s.DB.Save(&token).Error; err != nil {
				return nil, err
			}
			log.Printf("⏳ Token %s redeem pending confirmation (tx %s)", token.ID, result.TxHash)
			return &token, nil
		}
		token.RedeemTxHash = result.TxHash
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		token.Redeemed = true
		token.RedeemedAt = &now
		if err := tx.Save(&token).Error; err != nil {
			return err
		}
		if token.CampaignID != nil {
			return tx.Model(&models.Campaign{}).
				Where("id = ?", *token.CampaignID).
				Update("redeemed_count", gorm.Expr("redeemed_count + 1")).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RequestRedemption opens the physical-fulfilment sub-record on a phygital
// claim.
func (s *ClaimService) RequestRedemption(claimID, userID, shippingAddress string) (*models.Claim, error) {
	var claim models.Claim
	if err := s.DB.Where("id = ? AND user_id = ?", claimID, userID).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("claim not found or not owned by user")
		}
		return nil, err
	}
	if claim.Status != models.ClaimStatusTransferred {
		return nil, fmt.Errorf("claim is not eligible for physical redemption")
	}
	if claim.RedemptionRequested {
		return nil, fmt.Errorf("redemption already requested")
	}

	claim.RedemptionRequested = true
	claim.RedemptionStatus = models.RedemptionStatusRequested
	claim.ShippingAddress = shippingAddress
	if err := s.DB.Save(&claim).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}
