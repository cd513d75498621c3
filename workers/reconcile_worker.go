// workers/reconcile_worker.go
package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"reading-rewards-system/models"
	"reading-rewards-system/services"

	"gorm.io/gorm"
)

// ChainReconciler is the gateway surface the reconcile loop drives: settling
// previously submitted transactions and retrying mints for tokens that are
// still off-chain.
type ChainReconciler interface {
	TransactionStatus(ctx context.Context, txHash string) (*services.IssuanceResult, error)
	Mint(ctx context.Context, toAddress, metadataURI string) (*services.IssuanceResult, error)
}

// errSupplyOversettled trips when committing a confirmed claim would push
// claimed_count past total_supply — the campaign row was mutated out-of-band,
// or more transactions were in flight than the cap allows. The claim fails
// rather than break the cap.
var errSupplyOversettled = errors.New("campaign supply exhausted before confirmation settled")

// ReconcileWorker settles the two states the request path deliberately leaves
// open: claims whose transaction outlived the confirmation window, and earned
// reward tokens whose mint failed or whose owner had no wallet at earn time.
type ReconcileWorker struct {
	db       *gorm.DB
	chain    ChainReconciler
	users    *services.UserService
	interval time.Duration
}

func NewReconcileWorker(db *gorm.DB, chain ChainReconciler, users *services.UserService) *ReconcileWorker {
	return &ReconcileWorker{
		db:       db,
		chain:    chain,
		users:    users,
		interval: 1 * time.Minute,
	}
}

func (w *ReconcileWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Reconcile Worker (pending claims + off-chain reward tokens)…")
	go w.run(ctx)
}

func (w *ReconcileWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.settlePendingClaims(ctx)
			w.settlePendingRedemptions(ctx)
			w.settlePendingRewardMints(ctx)
			w.retryOffChainRewardMints(ctx)
		case <-ctx.Done():
			log.Println("⏹️ Reconcile Worker stopped")
			return
		}
	}
}

// settlePendingClaims re-queries receipts for claims stuck in pending with a
// submitted transaction hash.
func (w *ReconcileWorker) settlePendingClaims(ctx context.Context) {
	var claims []models.Claim
	err := w.db.Where("status = ? AND tx_hash <> ''", models.ClaimStatusPending).
		Order("created_at ASC").
		Limit(100).
		Find(&claims).Error
	if err != nil {
		log.Printf("[RECONCILE] DB error loading pending claims: %v", err)
		return
	}

	for i := range claims {
		claim := &claims[i]

		result, err := w.chain.TransactionStatus(ctx, claim.TxHash)
		if err != nil {
			// Reverted or unreachable — a revert is terminal for this claim.
			w.failClaim(claim, err)
			continue
		}
		if result.Pending {
			continue
		}
		if err := w.settleClaim(claim, result); err != nil {
			if errors.Is(err, errSupplyOversettled) {
				w.failClaim(claim, err)
				continue
			}
			log.Printf("[RECONCILE] ⚠️ Failed to settle claim %s: %v", claim.ID, err)
		}
	}
}

// settleClaim commits a confirmed claim: claim + token + escrow rows and the
// campaign counters move together, mirroring the request path's success
// branch.
func (w *ReconcileWorker) settleClaim(claim *models.Claim, result *services.IssuanceResult) error {
	var campaign models.Campaign
	if err := w.db.First(&campaign, "id = ?", claim.CampaignID).Error; err != nil {
		return err
	}

	var escrow *models.EscrowToken
	if campaign.Distribution == models.DistributionPremint {
		var e models.EscrowToken
		if err := w.db.Where("claim_id = ?", claim.ID).First(&e).Error; err == nil {
			escrow = &e
		}
	}

	chainTokenID := claim.ChainTokenID
	if chainTokenID == "" {
		chainTokenID = result.TokenID
	}

	return w.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if escrow != nil {
			claim.Status = models.ClaimStatusTransferred
		} else {
			claim.Status = models.ClaimStatusClaimed
		}
		claim.ChainTokenID = chainTokenID
		claim.ClaimedAt = &now
		if err := tx.Save(claim).Error; err != nil {
			return err
		}

		if claim.TokenID != nil {
			if err := tx.Model(&models.Token{}).
				Where("id = ?", *claim.TokenID).
				Updates(map[string]interface{}{
					"on_chain":       true,
					"chain_token_id": chainTokenID,
					"tx_hash":        claim.TxHash,
					"block_number":   result.BlockNumber,
				}).Error; err != nil {
				return err
			}
		}

		if escrow != nil {
			if err := tx.Model(&models.EscrowToken{}).
				Where("id = ?", escrow.ID).
				Update("status", models.EscrowTokenTransferred).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"claimed_count":     gorm.Expr("claimed_count + 1"),
			"completions_count": gorm.Expr("completions_count + 1"),
		}
		if escrow == nil {
			updates["minted_count"] = gorm.Expr("minted_count + 1")
		}
		// Same conditional increment the request path applies: never settle
		// past the cap.
		res := tx.Model(&models.Campaign{}).
			Where("id = ?", campaign.ID).
			Where("unlimited_supply = ? OR claimed_count < total_supply", true).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errSupplyOversettled
		}

		log.Printf("[RECONCILE] ✅ Settled claim %s (token %s, tx %s)", claim.ID, chainTokenID, claim.TxHash)
		return nil
	})
}

// failClaim terminates a reverted claim and releases its escrow reservation.
func (w *ReconcileWorker) failClaim(claim *models.Claim, cause error) {
	log.Printf("[RECONCILE] ❌ Claim %s transaction %s failed: %v", claim.ID, claim.TxHash, cause)
	err := w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Claim{}).
			Where("id = ?", claim.ID).
			Updates(map[string]interface{}{
				"status":        models.ClaimStatusFailed,
				"error_message": cause.Error(),
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.EscrowToken{}).
			Where("claim_id = ?", claim.ID).
			Updates(map[string]interface{}{
				"status":   models.EscrowTokenAvailable,
				"claim_id": nil,
			}).Error
	})
	if err != nil {
		log.Printf("[RECONCILE] ⚠️ Failed to record claim %s failure: %v", claim.ID, err)
	}
}

// settlePendingRedemptions flips tokens whose redeem transaction outlived the
// confirmation window. A reverted redeem leaves the token redeemable again.
func (w *ReconcileWorker) settlePendingRedemptions(ctx context.Context) {
	var tokens []models.Token
	err := w.db.Where("redeemed = ? AND redeem_tx_hash <> ''", false).
		Limit(100).
		Find(&tokens).Error
	if err != nil {
		log.Printf("[RECONCILE] DB error loading pending redemptions: %v", err)
		return
	}

	for i := range tokens {
		token := &tokens[i]

		result, err := w.chain.TransactionStatus(ctx, token.RedeemTxHash)
		if err != nil {
			log.Printf("[RECONCILE] ❌ Token %s redeem tx %s failed: %v", token.ID, token.RedeemTxHash, err)
			w.db.Model(token).Update("redeem_tx_hash", "")
			continue
		}
		if result.Pending {
			continue
		}

		err = w.db.Transaction(func(tx *gorm.DB) error {
			now := time.Now()
			if err := tx.Model(&models.Token{}).
				Where("id = ?", token.ID).
				Updates(map[string]interface{}{
					"redeemed":    true,
					"redeemed_at": now,
				}).Error; err != nil {
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
			log.Printf("[RECONCILE] ⚠️ Failed to finalize redemption of token %s: %v", token.ID, err)
			continue
		}
		log.Printf("[RECONCILE] ✅ Token %s redeem confirmed (tx %s)", token.ID, token.RedeemTxHash)
	}
}

// settlePendingRewardMints finalizes reward tokens whose mint was submitted
// but unconfirmed at earn time.
func (w *ReconcileWorker) settlePendingRewardMints(ctx context.Context) {
	var tokens []models.Token
	err := w.db.Where("on_chain = ? AND tx_hash <> '' AND reward_id IS NOT NULL", false).
		Limit(100).
		Find(&tokens).Error
	if err != nil {
		log.Printf("[RECONCILE] DB error loading pending reward mints: %v", err)
		return
	}

	for i := range tokens {
		token := &tokens[i]

		result, err := w.chain.TransactionStatus(ctx, token.TxHash)
		if err != nil {
			// Clear the hash so the retry pass re-mints next tick.
			log.Printf("[RECONCILE] ❌ Reward token %s mint tx %s failed: %v", token.ID, token.TxHash, err)
			w.db.Model(token).Update("tx_hash", "")
			continue
		}
		if result.Pending {
			continue
		}

		if err := w.db.Model(token).Updates(map[string]interface{}{
			"on_chain":       true,
			"chain_token_id": result.TokenID,
			"block_number":   result.BlockNumber,
		}).Error; err != nil {
			log.Printf("[RECONCILE] ⚠️ Failed to finalize reward token %s: %v", token.ID, err)
			continue
		}
		log.Printf("[RECONCILE] ✅ Reward token %s confirmed on-chain (token id %s)", token.ID, result.TokenID)
	}
}

// retryOffChainRewardMints mints earned reward tokens that never made it
// on-chain, typically because the owner registered a wallet after earning.
func (w *ReconcileWorker) retryOffChainRewardMints(ctx context.Context) {
	var tokens []models.Token
	err := w.db.Where("on_chain = ? AND tx_hash = '' AND reward_id IS NOT NULL", false).
		Limit(50).
		Find(&tokens).Error
	if err != nil {
		log.Printf("[RECONCILE] DB error loading off-chain reward tokens: %v", err)
		return
	}

	for i := range tokens {
		token := &tokens[i]

		user, err := w.users.FindByUserID(token.UserID)
		if err != nil || user.WalletAddress == "" {
			continue
		}

		result, err := w.chain.Mint(ctx, user.WalletAddress, token.MetadataURL)
		if err != nil {
			log.Printf("[RECONCILE] ⚠️ Retry mint failed for token %s: %v", token.ID, err)
			continue
		}
		if result.Pending {
			w.db.Model(token).Update("tx_hash", result.TxHash)
			continue
		}

		if err := w.db.Model(token).Updates(map[string]interface{}{
			"on_chain":       true,
			"chain_token_id": result.TokenID,
			"tx_hash":        result.TxHash,
			"block_number":   result.BlockNumber,
		}).Error; err != nil {
			log.Printf("[RECONCILE] ⚠️ Failed to persist retried mint for token %s: %v", token.ID, err)
			continue
		}
		log.Printf("[RECONCILE] ✅ Minted deferred reward token %s → %s (tx %s)", token.ID, user.WalletAddress, result.TxHash)
	}
}
