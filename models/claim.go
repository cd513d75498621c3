package models

import "time"

// ClaimStatus is the claim state machine: pending → claimed/transferred,
// or failed (terminal, retryable by submitting a fresh claim)
type ClaimStatus string

const (
	ClaimStatusPending     ClaimStatus = "pending"
	ClaimStatusClaimed     ClaimStatus = "claimed"     // mint-on-demand success
	ClaimStatusTransferred ClaimStatus = "transferred" // escrow transfer success
	ClaimStatusFailed      ClaimStatus = "failed"
)

// RedemptionStatus tracks the physical fulfilment of a phygital claim
type RedemptionStatus string

const (
	RedemptionStatusNone      RedemptionStatus = ""
	RedemptionStatusRequested RedemptionStatus = "requested"
	RedemptionStatusShipped   RedemptionStatus = "shipped"
	RedemptionStatusDelivered RedemptionStatus = "delivered"
)

// Claim is one user's attempt against one campaign.
// At most one non-failed claim may exist per (campaign_id, user_id) — see
// the partial unique index created in Migrate. A failed claim stays on
// record for support/reconciliation and does not block a retry.
type Claim struct {
	ID         string      `gorm:"primaryKey;type:uuid" json:"id"`
	CampaignID string      `gorm:"index;not null" json:"campaign_id"`
	UserID     string      `gorm:"index;not null" json:"user_id"`
	Status     ClaimStatus `gorm:"not null;default:'pending';index" json:"status"`

	// Issuance outcome
	TokenID      *string `gorm:"type:uuid" json:"token_id,omitempty"` // local Token row
	ChainTokenID string  `json:"chain_token_id,omitempty"`            // on-chain token id
	TxHash       string  `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	ErrorMessage string  `gorm:"type:text" json:"error_message,omitempty"`

	// Physical redemption sub-record (phygital campaigns only)
	RedemptionRequested bool             `gorm:"default:false" json:"redemption_requested"`
	RedemptionStatus    RedemptionStatus `gorm:"type:varchar(16)" json:"redemption_status,omitempty"`
	ShippingAddress     string           `gorm:"type:text" json:"shipping_address,omitempty"`
	TrackingNumber      string           `json:"tracking_number,omitempty"`

	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
