package models

import "gorm.io/gorm"

// Migrate runs AutoMigrate for every model plus the raw indexes gorm tags
// can't express. The partial unique index is the storage-level guarantee the
// claim pipeline leans on: two concurrent claims for the same (campaign,
// user) cannot both insert a live row, regardless of what either request
// read beforehand. Failed claims are excluded so a user can retry after a
// chain failure. Works on both Postgres and SQLite.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Campaign{},
		&EscrowToken{},
		&Claim{},
		&Token{},
		&Reward{},
		&UserMirror{},
	); err != nil {
		return err
	}

	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_campaign_user_live
		 ON claims (campaign_id, user_id) WHERE status <> 'failed'`,
	).Error
}
