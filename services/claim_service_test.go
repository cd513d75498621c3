package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"reading-rewards-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitClaimMintOnDemand(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, testWallet)

	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusClaimed, claim.Status)
	assert.NotEmpty(t, claim.TxHash)
	assert.NotNil(t, claim.ClaimedAt)
	assert.Equal(t, 1, chain.mintCalls)

	var token models.Token
	require.NoError(t, db.First(&token, "id = ?", *claim.TokenID).Error)
	assert.True(t, token.OnChain)
	assert.Equal(t, userID, token.UserID)
	assert.Equal(t, campaign.Name, token.Name)

	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.EqualValues(t, 1, updated.ClaimedCount)
	assert.EqualValues(t, 1, updated.MintedCount)
	assert.EqualValues(t, 1, updated.CompletionsCount)
}

func TestSubmitClaimPremintConsumesEscrow(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, func(c *models.Campaign) {
		c.Type = models.CampaignTypePhygital
		c.Distribution = models.DistributionPremint
		c.EscrowWallet = "0x2222222222222222222222222222222222222222"
		c.TotalSupply = 2
	})
	seedEscrowTokens(t, db, campaign.ID, 2)
	userID := seedUser(t, db, testWallet)

	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusTransferred, claim.Status)
	assert.Equal(t, "1000", claim.ChainTokenID)
	assert.Equal(t, 1, chain.transferCalls)
	assert.Zero(t, chain.mintCalls)

	var escrow models.EscrowToken
	require.NoError(t, db.First(&escrow, "chain_token_id = ?", "1000").Error)
	assert.Equal(t, models.EscrowTokenTransferred, escrow.Status)
	require.NotNil(t, escrow.ClaimID)
	assert.Equal(t, claim.ID, *escrow.ClaimID)

	// minted_count stays put — these tokens were minted at provisioning time
	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.EqualValues(t, 1, updated.ClaimedCount)
	assert.EqualValues(t, 0, updated.MintedCount)
}

func TestSubmitClaimDuplicateRejected(t *testing.T) {
	svc, db, _, _ := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, testWallet)

	_, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)

	_, err = svc.SubmitClaim(context.Background(), campaign.ID, userID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	var count int64
	db.Model(&models.Claim{}).Where("campaign_id = ?", campaign.ID).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestSubmitClaimSupplyNeverOversells(t *testing.T) {
	svc, db, _, _ := newClaimStack(t)
	campaign := seedCampaign(t, db, func(c *models.Campaign) { c.TotalSupply = 3 })

	var users []string
	for i := 0; i < 10; i++ {
		users = append(users, seedUser(t, db, testWallet))
	}

	var wg sync.WaitGroup
	results := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, results[i] = svc.SubmitClaim(context.Background(), campaign.ID, u)
		}(i, u)
	}
	wg.Wait()

	var succeeded int
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrNoSupplyRemaining)
		}
	}
	assert.Equal(t, 3, succeeded)

	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.EqualValues(t, 3, updated.ClaimedCount)
}

func TestSubmitClaimRequiresWallet(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, "")

	_, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	assert.ErrorIs(t, err, ErrWalletRequired)
	assert.Zero(t, chain.mintCalls)

	// unknown user gets the same answer
	_, err = svc.SubmitClaim(context.Background(), campaign.ID, "nobody")
	assert.ErrorIs(t, err, ErrWalletRequired)
}

func TestSubmitClaimInactiveCampaign(t *testing.T) {
	svc, db, _, _ := newClaimStack(t)
	campaign := seedCampaign(t, db, func(c *models.Campaign) { c.Status = models.CampaignStatusPaused })
	userID := seedUser(t, db, testWallet)

	_, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	assert.ErrorIs(t, err, ErrCampaignNotActive)

	_, err = svc.SubmitClaim(context.Background(), "00000000-0000-0000-0000-000000000000", userID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestSubmitClaimIneligible(t *testing.T) {
	svc, db, activity, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, func(c *models.Campaign) {
		c.Eligibility = models.EligibilityRule{Type: models.RuleStreak, StreakDays: 7}
	})
	userID := seedUser(t, db, testWallet)
	activity.streaks[userID] = 2

	_, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	var notEligible *NotEligibleError
	require.ErrorAs(t, err, &notEligible)
	assert.Contains(t, notEligible.Reason, "7-day")
	assert.Zero(t, chain.mintCalls)
}

func TestSubmitClaimChainFailureAllowsRetry(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, func(c *models.Campaign) {
		c.Distribution = models.DistributionPremint
		c.EscrowWallet = "0x2222222222222222222222222222222222222222"
		c.TotalSupply = 1
	})
	seedEscrowTokens(t, db, campaign.ID, 1)
	userID := seedUser(t, db, testWallet)

	chain.transferErr = errors.New("rpc timeout")
	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.ErrorIs(t, err, ErrIssuanceFailed)
	require.NotNil(t, claim)
	assert.Equal(t, models.ClaimStatusFailed, claim.Status)
	assert.Contains(t, claim.ErrorMessage, "rpc timeout")

	// failure released the escrow token and left the counters untouched
	var escrow models.EscrowToken
	require.NoError(t, db.First(&escrow, "campaign_id = ?", campaign.ID).Error)
	assert.Equal(t, models.EscrowTokenAvailable, escrow.Status)
	assert.Nil(t, escrow.ClaimID)

	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.EqualValues(t, 0, updated.ClaimedCount)

	// a fresh attempt succeeds despite the failed row on record
	chain.transferErr = nil
	claim, err = svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusTransferred, claim.Status)
}

func TestSubmitClaimPendingConfirmation(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, testWallet)

	chain.pending = true
	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusPending, claim.Status)
	assert.Equal(t, "0xpending", claim.TxHash)

	// counters only move once the transaction settles
	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.EqualValues(t, 0, updated.ClaimedCount)
}

func TestGetEligibilityReportsPreconditions(t *testing.T) {
	svc, db, _, _ := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, testWallet)

	d, err := svc.GetEligibility(context.Background(), campaign.ID, userID)
	require.NoError(t, err)
	assert.True(t, d.Eligible)

	_, err = svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)

	d, err = svc.GetEligibility(context.Background(), campaign.ID, userID)
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "already claimed")
}

func TestRedeemToken(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, testWallet)

	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)

	token, err := svc.RedeemToken(context.Background(), *claim.TokenID, userID)
	require.NoError(t, err)
	assert.True(t, token.Redeemed)
	assert.Equal(t, 1, chain.redeemCalls)

	// double redeem is rejected
	_, err = svc.RedeemToken(context.Background(), *claim.TokenID, userID)
	assert.Error(t, err)

	// someone else's token is invisible
	otherID := seedUser(t, db, testWallet)
	_, err = svc.RedeemToken(context.Background(), *claim.TokenID, otherID)
	assert.Error(t, err)

	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.EqualValues(t, 1, updated.RedeemedCount)
}

func TestRequestRedemption(t *testing.T) {
	svc, db, _, _ := newClaimStack(t)
	campaign := seedCampaign(t, db, func(c *models.Campaign) {
		c.Type = models.CampaignTypePhygital
		c.Distribution = models.DistributionPremint
		c.EscrowWallet = "0x2222222222222222222222222222222222222222"
	})
	seedEscrowTokens(t, db, campaign.ID, 1)
	userID := seedUser(t, db, testWallet)

	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)

	updated, err := svc.RequestRedemption(claim.ID, userID, "1 Library Way, Booktown")
	require.NoError(t, err)
	assert.True(t, updated.RedemptionRequested)
	assert.Equal(t, models.RedemptionStatusRequested, updated.RedemptionStatus)

	_, err = svc.RequestRedemption(claim.ID, userID, "somewhere else")
	assert.Error(t, err)
}

func TestPendingClaimsHoldSupply(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	chain.pending = true
	campaign := seedCampaign(t, db, func(c *models.Campaign) { c.TotalSupply = 1 })

	first := seedUser(t, db, testWallet)
	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, first)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusPending, claim.Status)

	// the unconfirmed claim holds the only unit
	second := seedUser(t, db, testWallet)
	decision, err := svc.GetEligibility(context.Background(), campaign.ID, second)
	require.NoError(t, err)
	assert.False(t, decision.Eligible)

	_, err = svc.SubmitClaim(context.Background(), campaign.ID, second)
	assert.ErrorIs(t, err, ErrNoSupplyRemaining)

	var live int64
	require.NoError(t, db.Model(&models.Claim{}).
		Where("campaign_id = ? AND status <> ?", campaign.ID, models.ClaimStatusFailed).
		Count(&live).Error)
	assert.EqualValues(t, 1, live)
}

func TestConcurrentPendingClaimsRespectSupply(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	chain.pending = true
	campaign := seedCampaign(t, db, func(c *models.Campaign) { c.TotalSupply = 3 })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		userID := seedUser(t, db, testWallet)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.SubmitClaim(context.Background(), campaign.ID, userID)
		}()
	}
	wg.Wait()

	var live int64
	require.NoError(t, db.Model(&models.Claim{}).
		Where("campaign_id = ? AND status <> ?", campaign.ID, models.ClaimStatusFailed).
		Count(&live).Error)
	assert.EqualValues(t, 3, live)
}

func TestRedeemTokenPendingDefersFlip(t *testing.T) {
	svc, db, _, chain := newClaimStack(t)
	campaign := seedCampaign(t, db, nil)
	userID := seedUser(t, db, testWallet)

	claim, err := svc.SubmitClaim(context.Background(), campaign.ID, userID)
	require.NoError(t, err)

	chain.pending = true
	token, err := svc.RedeemToken(context.Background(), *claim.TokenID, userID)
	require.NoError(t, err)
	assert.False(t, token.Redeemed)
	assert.Equal(t, "0xpending", token.RedeemTxHash)

	// no double-submit while the first transaction confirms
	_, err = svc.RedeemToken(context.Background(), *claim.TokenID, userID)
	assert.Error(t, err)

	// the counter waits for confirmation too
	var updated models.Campaign
	require.NoError(t, db.First(&updated, "id = ?", campaign.ID).Error)
	assert.Zero(t, updated.RedeemedCount)
}
