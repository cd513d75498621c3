// services/users.go
package services

import (
	"errors"
	"fmt"

	"reading-rewards-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// UserService is the claim pipeline's view of the user directory, backed by
// the locally synced UserMirror table.
type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// FindByUserID looks up a user mirror row by the external user id.
func (s *UserService) FindByUserID(externalUserID string) (*models.UserMirror, error) {
	var user models.UserMirror
	if err := s.DB.Where("external_user_id = ?", externalUserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateWallet registers (or replaces) the user's wallet address. The
// address is validated up front so a malformed identifier can't slip into
// the issuance path.
func (s *UserService) UpdateWallet(externalUserID, address string) (*models.UserMirror, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid wallet address %q", address)
	}
	normalized := common.HexToAddress(address).Hex()

	var user models.UserMirror
	err := s.DB.Where("external_user_id = ?", externalUserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.UserMirror{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			WalletAddress:  normalized,
		}
		if err := s.DB.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	user.WalletAddress = normalized
	if err := s.DB.Save(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
