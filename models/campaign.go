package models

import (
	"time"

	"gorm.io/gorm"
)

// CampaignType describes what kind of reward a brand campaign hands out
type CampaignType string

const (
	CampaignTypeReward      CampaignType = "reward"
	CampaignTypeAccess      CampaignType = "access"
	CampaignTypePhygital    CampaignType = "phygital"
	CampaignTypeAchievement CampaignType = "achievement"
)

// CampaignStatus indicates the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// DistributionMode selects how NFTs reach the claimant
type DistributionMode string

const (
	// DistributionPremint: tokens are batch-minted into an escrow wallet up
	// front and transferred out one at a time as users claim (phygital flow).
	DistributionPremint DistributionMode = "premint"
	// DistributionMintOnDemand: each claim mints a fresh token straight to
	// the user's wallet.
	DistributionMintOnDemand DistributionMode = "mint_on_demand"
)

// RuleType tags the eligibility rule variant configured on a campaign
type RuleType string

const (
	RuleOpen       RuleType = "open"
	RuleCommunity  RuleType = "community"
	RuleEngagement RuleType = "engagement"
	RuleStreak     RuleType = "streak"
	RuleEvent      RuleType = "event"
	RulePurchase   RuleType = "purchase"
	RuleCustom     RuleType = "custom"
)

// EligibilityRule holds the requirement parameters for a campaign.
// Only the fields relevant to Type are populated; stored as jsonb.
type EligibilityRule struct {
	Type RuleType `json:"type"`

	// community
	CommunityID string `json:"community_id,omitempty"`
	// community + engagement share min_posts (community-scoped vs. global)
	MinPosts int `json:"min_posts,omitempty"`

	// engagement
	MinPostLikes int `json:"min_post_likes,omitempty"` // per-post threshold, not a sum
	MinComments  int `json:"min_comments,omitempty"`

	// streak
	StreakDays int `json:"streak_days,omitempty"`

	// event
	EventID    string `json:"event_id,omitempty"`
	MustAttend bool   `json:"must_attend,omitempty"`

	// purchase (passthrough stub for now)
	MinPurchaseAmount float64 `json:"min_purchase_amount,omitempty"`
}

// Campaign represents a brand-issued reward batch
type Campaign struct {
	ID          string         `gorm:"primaryKey;type:uuid" json:"id"`
	BrandID     string         `gorm:"index;not null" json:"brand_id"`
	Name        string         `gorm:"not null" json:"name"`
	Slug        string         `gorm:"uniqueIndex;not null" json:"slug"`
	Description string         `gorm:"type:text" json:"description"`
	ImageURL    string         `gorm:"type:text" json:"image_url"`
	Type        CampaignType   `gorm:"not null" json:"type"`
	Status      CampaignStatus `gorm:"not null;default:'draft';index" json:"status"`

	// Supply. ClaimedCount only advances through the claim pipeline's
	// conditional increment — never by direct mutation.
	TotalSupply      int64 `json:"total_supply"`
	UnlimitedSupply  bool  `gorm:"default:false" json:"unlimited_supply"`
	MintedCount      int64 `gorm:"default:0" json:"minted_count"`
	ClaimedCount     int64 `gorm:"default:0" json:"claimed_count"`
	RedeemedCount    int64 `gorm:"default:0" json:"redeemed_count"`
	CompletionsCount int64 `gorm:"default:0" json:"completions_count"`

	Eligibility EligibilityRule `gorm:"serializer:json;type:jsonb" json:"eligibility"`

	// Distribution
	Distribution DistributionMode `gorm:"not null;default:'mint_on_demand'" json:"distribution"`
	EscrowWallet string           `gorm:"type:varchar(64)" json:"escrow_wallet,omitempty"`

	// Template copied onto every token this campaign issues
	TokenCategory string            `json:"token_category"`
	TokenRarity   string            `gorm:"type:varchar(16);default:'common'" json:"token_rarity"`
	TokenBenefits map[string]string `gorm:"serializer:json;type:jsonb" json:"token_benefits,omitempty"`

	// Time window
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// EscrowTokenStatus tracks availability of one pre-minted token id
type EscrowTokenStatus string

const (
	EscrowTokenAvailable   EscrowTokenStatus = "available"
	EscrowTokenReserved    EscrowTokenStatus = "reserved"
	EscrowTokenTransferred EscrowTokenStatus = "transferred"
)

// EscrowToken is one pre-minted token sitting in a campaign's escrow wallet.
// Availability is explicit per-token state: a claim reserves a row with a
// conditional update, marks it transferred on success and releases it back
// to available on failure. Unique on (campaign_id, chain_token_id).
type EscrowToken struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	CampaignID   string            `gorm:"index:idx_escrow_campaign_token,unique;not null" json:"campaign_id"`
	ChainTokenID string            `gorm:"index:idx_escrow_campaign_token,unique;not null" json:"chain_token_id"`
	Status       EscrowTokenStatus `gorm:"not null;default:'available';index" json:"status"`
	ClaimID      *string           `gorm:"type:uuid" json:"claim_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
