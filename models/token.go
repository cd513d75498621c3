package models

import "time"

// Token is an issued reward unit. Name/category/rarity/benefits are fixed at
// creation. The chain is the source of truth for possession; this row is the
// system of record for metadata. On-chain fields stay empty until issuance
// completes — an off-chain token (OnChain=false) is still valid and gets
// reconciled later.
type Token struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"index;not null" json:"user_id"` // off-chain cache of the on-chain owner

	Name     string            `gorm:"not null" json:"name"`
	Category string            `json:"category"`
	Rarity   string            `gorm:"type:varchar(16);default:'common'" json:"rarity"`
	Benefits map[string]string `gorm:"serializer:json;type:jsonb" json:"benefits,omitempty"`

	// Provenance — exactly one of these is set
	CampaignID *string `gorm:"index" json:"campaign_id,omitempty"`
	RewardID   *string `gorm:"index" json:"reward_id,omitempty"`

	// Redeemed only flips once the burn confirms; a submitted-but-unconfirmed
	// redeem parks its hash in RedeemTxHash for the reconcile pass.
	Redeemed     bool       `gorm:"default:false" json:"redeemed"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	RedeemTxHash string     `gorm:"type:varchar(66)" json:"redeem_tx_hash,omitempty"`

	// On-chain reference
	OnChain      bool   `gorm:"default:false;index" json:"on_chain"`
	ChainTokenID string `json:"chain_token_id,omitempty"`
	TxHash       string `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	BlockNumber  uint64 `json:"block_number,omitempty"`
	MetadataURL  string `gorm:"type:text" json:"metadata_url,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
