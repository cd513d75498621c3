package models

import (
	"time"

	"gorm.io/gorm"
)

// UserMirror is a local snapshot of user-directory data the claim pipeline
// needs (most importantly the registered wallet address). Owned solely by
// this service; populated via the user sync worker from the profile service.
type UserMirror struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // profile service UUID
	Username       string `gorm:"index;not null" json:"username"`
	Email          string `json:"email,omitempty"`

	// WalletAddress is empty until the user registers one; claims require it.
	WalletAddress string `gorm:"type:varchar(64);index" json:"wallet_address,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
