package services

import (
	"context"
	"fmt"
	"testing"

	"reading-rewards-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One in-memory sqlite database per pooled connection otherwise.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, wallet string) string {
	t.Helper()
	userID := uuid.NewString()
	require.NoError(t, db.Create(&models.UserMirror{
		ID:             uuid.NewString(),
		ExternalUserID: userID,
		Username:       "reader-" + userID[:8],
		WalletAddress:  wallet,
	}).Error)
	return userID
}

const testWallet = "0x1111111111111111111111111111111111111111"

func seedCampaign(t *testing.T, db *gorm.DB, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()
	campaign := &models.Campaign{
		ID:            uuid.NewString(),
		BrandID:       uuid.NewString(),
		Name:          "Summer Reading Drop",
		Slug:          "summer-reading-drop-" + uuid.NewString()[:8],
		Type:          models.CampaignTypeReward,
		Status:        models.CampaignStatusActive,
		TotalSupply:   10,
		Distribution:  models.DistributionMintOnDemand,
		TokenCategory: "collectible",
		TokenRarity:   "common",
		Eligibility:   models.EligibilityRule{Type: models.RuleOpen},
	}
	if mutate != nil {
		mutate(campaign)
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func seedEscrowTokens(t *testing.T, db *gorm.DB, campaignID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&models.EscrowToken{
			ID:           uuid.NewString(),
			CampaignID:   campaignID,
			ChainTokenID: fmt.Sprintf("%d", 1000+i),
			Status:       models.EscrowTokenAvailable,
		}).Error)
	}
}

// fakeActivity is an in-memory ActivityStore.
type fakeActivity struct {
	members       map[string]bool // userID:communityID
	communityPost map[string]int64
	posts         map[string]int64
	likes         map[string][]int64
	comments      map[string]int64
	attendees     map[string][]string // eventID → userIDs
	streaks       map[string]int64
	err           error
}

func newFakeActivity() *fakeActivity {
	return &fakeActivity{
		members:       map[string]bool{},
		communityPost: map[string]int64{},
		posts:         map[string]int64{},
		likes:         map[string][]int64{},
		comments:      map[string]int64{},
		attendees:     map[string][]string{},
		streaks:       map[string]int64{},
	}
}

func (f *fakeActivity) IsCommunityMember(_ context.Context, userID, communityID string) (bool, error) {
	return f.members[userID+":"+communityID], f.err
}
func (f *fakeActivity) CountCommunityPosts(_ context.Context, userID, communityID string) (int64, error) {
	return f.communityPost[userID+":"+communityID], f.err
}
func (f *fakeActivity) CountPosts(_ context.Context, userID string) (int64, error) {
	return f.posts[userID], f.err
}
func (f *fakeActivity) PostLikeCounts(_ context.Context, userID string) ([]int64, error) {
	return f.likes[userID], f.err
}
func (f *fakeActivity) CountComments(_ context.Context, userID string) (int64, error) {
	return f.comments[userID], f.err
}
func (f *fakeActivity) EventAttendees(_ context.Context, eventID string) ([]string, error) {
	return f.attendees[eventID], f.err
}
func (f *fakeActivity) ReadingStreak(_ context.Context, userID string) (int64, error) {
	return f.streaks[userID], f.err
}

// fakeChain is a scriptable ChainIssuer.
type fakeChain struct {
	mintErr     error
	transferErr error
	redeemErr   error
	pending     bool

	mintCalls     int
	transferCalls int
	redeemCalls   int
	nextTokenID   int
}

func (f *fakeChain) Mint(_ context.Context, toAddress, metadataURI string) (*IssuanceResult, error) {
	f.mintCalls++
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	if f.pending {
		return &IssuanceResult{Pending: true, TxHash: "0xpending"}, nil
	}
	f.nextTokenID++
	return &IssuanceResult{
		Success:     true,
		TokenID:     fmt.Sprintf("%d", f.nextTokenID),
		TxHash:      fmt.Sprintf("0xmint%d", f.nextTokenID),
		BlockNumber: 42,
	}, nil
}

func (f *fakeChain) TransferFromEscrow(_ context.Context, escrowAddress, toAddress, chainTokenID string) (*IssuanceResult, error) {
	f.transferCalls++
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	if f.pending {
		return &IssuanceResult{Pending: true, TxHash: "0xpending"}, nil
	}
	return &IssuanceResult{
		Success:     true,
		TokenID:     chainTokenID,
		TxHash:      "0xtransfer" + chainTokenID,
		BlockNumber: 43,
	}, nil
}

func (f *fakeChain) Redeem(_ context.Context, chainTokenID string) (*IssuanceResult, error) {
	f.redeemCalls++
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	if f.pending {
		return &IssuanceResult{Pending: true, TxHash: "0xpending"}, nil
	}
	return &IssuanceResult{Success: true, TokenID: chainTokenID, TxHash: "0xredeem"}, nil
}

// fakeMetadata records uploads and returns deterministic URLs.
type fakeMetadata struct {
	uploads []string
	err     error
}

func (f *fakeMetadata) UploadJSON(_ context.Context, key string, _ interface{}) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, key)
	return "https://cdn.test/" + key, nil
}

func newClaimStack(t *testing.T) (*ClaimService, *gorm.DB, *fakeActivity, *fakeChain) {
	t.Helper()
	db := newTestDB(t)
	activity := newFakeActivity()
	chain := &fakeChain{}
	svc := NewClaimService(db, NewEligibilityService(activity), NewUserService(db), chain, &fakeMetadata{})
	return svc, db, activity, chain
}
