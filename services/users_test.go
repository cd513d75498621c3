package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateWalletValidatesAndNormalizes(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)
	userID := seedUser(t, db, "")

	_, err := svc.UpdateWallet(userID, "nope")
	assert.Error(t, err)

	// mixed case in, checksummed out
	user, err := svc.UpdateWallet(userID, "0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	require.NoError(t, err)
	assert.Equal(t, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", user.WalletAddress)
}

func TestUpdateWalletCreatesMirrorWhenMissing(t *testing.T) {
	db := newTestDB(t)
	svc := NewUserService(db)

	_, err := svc.FindByUserID("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err := svc.UpdateWallet("ghost", testWallet)
	require.NoError(t, err)
	assert.Equal(t, "ghost", user.ExternalUserID)

	found, err := svc.FindByUserID("ghost")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
}
