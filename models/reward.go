package models

import "time"

// RewardTrigger names an activity metric that advances reward progress
type RewardTrigger string

const (
	TriggerPostingStreak   RewardTrigger = "posting_streak"
	TriggerPostLikes       RewardTrigger = "post_likes"
	TriggerCommunityJoins  RewardTrigger = "community_joins"
	TriggerEventAttendance RewardTrigger = "event_attendance"
	TriggerEventCreation   RewardTrigger = "event_creation"
	TriggerReadingStreak   RewardTrigger = "reading_streak"
)

// Reward tracks one user's progress toward a named achievement.
// Current only moves forward; Earned flips false→true exactly once per
// (user_id, type) — enforced by the unique index plus a guarded update.
type Reward struct {
	ID      string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID  string        `gorm:"index:idx_reward_user_type,unique;not null" json:"user_id"`
	Type    string        `gorm:"index:idx_reward_user_type,unique;not null" json:"type"`
	Trigger RewardTrigger `gorm:"column:trigger_type;index;not null" json:"trigger"`

	Current int64 `gorm:"default:0" json:"current"`
	Target  int64 `gorm:"not null" json:"target"`

	Earned   bool       `gorm:"default:false;index" json:"earned"`
	EarnedAt *time.Time `json:"earned_at,omitempty"`
	TokenID  *string    `gorm:"type:uuid" json:"token_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RewardDefinition: static catalog entry seeded per user
type RewardDefinition struct {
	Type      string
	Trigger   RewardTrigger
	Target    int64
	TokenName string
	Category  string
	Rarity    string
	Benefits  map[string]string
}

// RewardCatalog lists every achievement the tracker knows about.
// One Reward row per entry is seeded for each user on initialization.
var RewardCatalog = []RewardDefinition{
	{
		Type:      "POSTING_STREAK_7",
		Trigger:   TriggerPostingStreak,
		Target:    7,
		TokenName: "Consistent Contributor",
		Category:  "achievement",
		Rarity:    "common",
	},
	{
		Type:      "POST_LIKES_100",
		Trigger:   TriggerPostLikes,
		Target:    100,
		TokenName: "Community Favorite",
		Category:  "achievement",
		Rarity:    "rare",
	},
	{
		Type:      "COMMUNITY_JOINS_5",
		Trigger:   TriggerCommunityJoins,
		Target:    5,
		TokenName: "Social Butterfly",
		Category:  "achievement",
		Rarity:    "common",
	},
	{
		Type:      "EVENT_ATTENDANCE_3",
		Trigger:   TriggerEventAttendance,
		Target:    3,
		TokenName: "Regular Attendee",
		Category:  "achievement",
		Rarity:    "rare",
	},
	{
		Type:      "EVENT_CREATION_1",
		Trigger:   TriggerEventCreation,
		Target:    1,
		TokenName: "Event Host",
		Category:  "achievement",
		Rarity:    "epic",
	},
	{
		Type:      "READING_STREAK_7",
		Trigger:   TriggerReadingStreak,
		Target:    7,
		TokenName: "Week of Reading",
		Category:  "achievement",
		Rarity:    "common",
	},
	{
		Type:      "READING_STREAK_30",
		Trigger:   TriggerReadingStreak,
		Target:    30,
		TokenName: "Month of Reading",
		Category:  "achievement",
		Rarity:    "epic",
		Benefits:  map[string]string{"discount": "10% off partner bookstores"},
	},
}
