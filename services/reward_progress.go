// services/reward_progress.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"reading-rewards-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// EarnedReward is returned for each reward a progress check pushed over its
// target.
type EarnedReward struct {
	Reward *models.Reward `json:"reward"`
	Token  *models.Token  `json:"token"`
}

// RewardProgressService advances per-user achievement progress and issues
// tokens when targets are met. Minting here is best-effort: a chain failure
// leaves the earned token valid off-chain for the reconcile worker to pick
// up, rather than blocking the earn.
type RewardProgressService struct {
	DB       *gorm.DB
	Users    *UserService
	Chain    ChainIssuer
	Metadata MetadataStore
}

func NewRewardProgressService(db *gorm.DB, users *UserService, chain ChainIssuer, metadata MetadataStore) *RewardProgressService {
	return &RewardProgressService{DB: db, Users: users, Chain: chain, Metadata: metadata}
}

// InitializeUserRewards seeds one Reward row per catalog entry for the user.
// Idempotent: duplicate-key errors from re-seeding are ignored.
func (s *RewardProgressService) InitializeUserRewards(userID string) error {
	for _, def := range models.RewardCatalog {
		reward := models.Reward{
			ID:      uuid.NewString(),
			UserID:  userID,
			Type:    def.Type,
			Trigger: def.Trigger,
			Target:  def.Target,
		}
		if err := s.DB.Create(&reward).Error; err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return fmt.Errorf("failed to seed reward %s for %s: %w", def.Type, userID, err)
		}
	}
	return nil
}

// CheckProgress updates every not-yet-earned reward on the given trigger
// with the latest metric value and issues tokens for the ones that crossed
// their target. Progress is monotonic: a lower currentValue never moves a
// reward backwards.
func (s *RewardProgressService) CheckProgress(ctx context.Context, userID string, trigger models.RewardTrigger, currentValue int64, metadata map[string]string) ([]EarnedReward, error) {
	var rewards []models.Reward
	if err := s.DB.Where("user_id = ? AND trigger_type = ? AND earned = ?", userID, trigger, false).
		Find(&rewards).Error; err != nil {
		return nil, err
	}

	var earned []EarnedReward
	for i := range rewards {
		reward := &rewards[i]

		if currentValue > reward.Current {
			if err := s.DB.Model(reward).Update("current", currentValue).Error; err != nil {
				return earned, err
			}
			reward.Current = currentValue
		}

		if reward.Current < reward.Target {
			continue
		}

		token, err := s.earnReward(reward)
		if err != nil {
			return earned, err
		}
		if token == nil {
			continue // lost the earn race to a concurrent check
		}

		s.mintEarnedToken(ctx, reward, token)
		earned = append(earned, EarnedReward{Reward: reward, Token: token})
	}
	return earned, nil
}

// earnReward flips the reward to earned and creates its token in one
// transaction. The guarded update makes the false→true transition happen
// exactly once even under concurrent progress checks; the loser sees zero
// rows affected and returns a nil token.
func (s *RewardProgressService) earnReward(reward *models.Reward) (*models.Token, error) {
	def := catalogEntry(reward.Type)
	if def == nil {
		return nil, fmt.Errorf("reward type %q missing from catalog", reward.Type)
	}

	token := &models.Token{
		ID:       uuid.NewString(),
		UserID:   reward.UserID,
		Name:     def.TokenName,
		Category: def.Category,
		Rarity:   def.Rarity,
		Benefits: def.Benefits,
		RewardID: &reward.ID,
	}

	var won bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.Reward{}).
			Where("id = ? AND earned = ?", reward.ID, false).
			Updates(map[string]interface{}{
				"earned":    true,
				"earned_at": now,
				"token_id":  token.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		reward.Earned = true
		reward.EarnedAt = &now
		reward.TokenID = &token.ID
		return tx.Create(token).Error
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}

	log.Printf("🏅 Reward earned: %s → %s (token %s)", reward.Type, reward.UserID, token.ID)
	return token, nil
}

// mintEarnedToken pushes an earned token on-chain when the user has a
// wallet. Failures are swallowed deliberately — the token stays valid
// off-chain and the reconcile worker retries the mint later.
func (s *RewardProgressService) mintEarnedToken(ctx context.Context, reward *models.Reward, token *models.Token) {
	user, err := s.Users.FindByUserID(reward.UserID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.Printf("⚠️ Wallet lookup failed for %s: %v", reward.UserID, err)
		}
		return
	}
	if user.WalletAddress == "" {
		return
	}

	metadataURL := ""
	if s.Metadata != nil {
		key := fmt.Sprintf("metadata/rewards/%s/%s.json", slug.Make(reward.Type), token.ID)
		url, err := s.Metadata.UploadJSON(ctx, key, map[string]interface{}{
			"name": token.Name,
			"attributes": []map[string]string{
				{"trait_type": "category", "value": token.Category},
				{"trait_type": "rarity", "value": token.Rarity},
			},
		})
		if err != nil {
			log.Printf("⚠️ Metadata upload failed for reward token %s: %v", token.ID, err)
		} else {
			metadataURL = url
		}
	}

	result, err := s.Chain.Mint(ctx, user.WalletAddress, metadataURL)
	if err != nil {
		log.Printf("⚠️ Reward token %s mint failed (stays off-chain): %v", token.ID, err)
		return
	}
	if result.Pending {
		// Record the hash; the reconcile worker finalizes it.
		if err := s.DB.Model(token).Updates(map[string]interface{}{
			"tx_hash":      result.TxHash,
			"metadata_url": metadataURL,
		}).Error; err != nil {
			log.Printf("⚠️ Failed to record pending mint for token %s: %v", token.ID, err)
		}
		return
	}

	token.OnChain = true
	token.ChainTokenID = result.TokenID
	token.TxHash = result.TxHash
	token.BlockNumber = result.BlockNumber
	token.MetadataURL = metadataURL
	if err := s.DB.Save(token).Error; err != nil {
		log.Printf("⚠️ Failed to persist on-chain fields for token %s: %v", token.ID, err)
	}
}

// GetUserRewards returns the user's full progress list.
func (s *RewardProgressService) GetUserRewards(userID string) ([]models.Reward, error) {
	var rewards []models.Reward
	err := s.DB.Where("user_id = ?", userID).Order("type ASC").Find(&rewards).Error
	return rewards, err
}

func catalogEntry(rewardType string) *models.RewardDefinition {
	for i := range models.RewardCatalog {
		if models.RewardCatalog[i].Type == rewardType {
			return &models.RewardCatalog[i]
		}
	}
	return nil
}
