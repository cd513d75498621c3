package services

import (
	"context"
	"errors"
	"testing"

	"reading-rewards-system/models"

	"github.com/stretchr/testify/assert"
)

func evalCampaign(rule models.EligibilityRule) *models.Campaign {
	return &models.Campaign{ID: "c1", Eligibility: rule}
}

func TestEvaluateOpenRule(t *testing.T) {
	svc := NewEligibilityService(newFakeActivity())

	d := svc.Evaluate(context.Background(), "u1", evalCampaign(models.EligibilityRule{Type: models.RuleOpen}))
	assert.True(t, d.Eligible)

	// zero-valued rule behaves like open
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(models.EligibilityRule{}))
	assert.True(t, d.Eligible)
}

func TestEvaluateCommunityRule(t *testing.T) {
	activity := newFakeActivity()
	svc := NewEligibilityService(activity)
	rule := models.EligibilityRule{Type: models.RuleCommunity, CommunityID: "book-club"}

	d := svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "book-club")

	activity.members["u1:book-club"] = true
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.True(t, d.Eligible)

	// membership plus a community-scoped post minimum
	rule.MinPosts = 3
	activity.communityPost["u1:book-club"] = 2
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.False(t, d.Eligible)

	activity.communityPost["u1:book-club"] = 3
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.True(t, d.Eligible)
}

func TestEvaluateEngagementRule(t *testing.T) {
	activity := newFakeActivity()
	svc := NewEligibilityService(activity)

	rule := models.EligibilityRule{Type: models.RuleEngagement, MinPosts: 5, MinPostLikes: 10, MinComments: 2}
	activity.posts["u1"] = 5
	activity.comments["u1"] = 2

	// min_post_likes is per-post: 4+4+4 likes across posts does not qualify
	activity.likes["u1"] = []int64{4, 4, 4}
	d := svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "likes")

	// one post at the threshold does
	activity.likes["u1"] = []int64{4, 10, 1}
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.True(t, d.Eligible)
}

func TestEvaluateStreakRule(t *testing.T) {
	activity := newFakeActivity()
	svc := NewEligibilityService(activity)
	rule := models.EligibilityRule{Type: models.RuleStreak, StreakDays: 7}

	activity.streaks["u1"] = 6
	d := svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.False(t, d.Eligible)

	activity.streaks["u1"] = 7
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.True(t, d.Eligible)
}

func TestEvaluateEventRule(t *testing.T) {
	activity := newFakeActivity()
	svc := NewEligibilityService(activity)
	rule := models.EligibilityRule{Type: models.RuleEvent, EventID: "e1", MustAttend: true}

	activity.attendees["e1"] = []string{"u2", "u3"}
	d := svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.False(t, d.Eligible)

	activity.attendees["e1"] = []string{"u2", "u1"}
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(rule))
	assert.True(t, d.Eligible)

	// without must_attend there is nothing to check
	d = svc.Evaluate(context.Background(), "u1", evalCampaign(models.EligibilityRule{Type: models.RuleEvent, EventID: "e1"}))
	assert.True(t, d.Eligible)
}

func TestEvaluateCustomRuleNeedsReview(t *testing.T) {
	svc := NewEligibilityService(newFakeActivity())
	d := svc.Evaluate(context.Background(), "u1", evalCampaign(models.EligibilityRule{Type: models.RuleCustom}))
	assert.True(t, d.Eligible)
	assert.True(t, d.NeedsReview)
}

func TestEvaluateUnknownRuleType(t *testing.T) {
	svc := NewEligibilityService(newFakeActivity())
	d := svc.Evaluate(context.Background(), "u1", evalCampaign(models.EligibilityRule{Type: "vibes"}))
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "vibes")
}

func TestEvaluateFailsClosedOnLookupError(t *testing.T) {
	activity := newFakeActivity()
	activity.err = errors.New("activity service unavailable")
	svc := NewEligibilityService(activity)

	d := svc.Evaluate(context.Background(), "u1", evalCampaign(models.EligibilityRule{Type: models.RuleStreak, StreakDays: 7}))
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "unavailable")
}

func TestEvaluateIsDeterministic(t *testing.T) {
	activity := newFakeActivity()
	activity.streaks["u1"] = 10
	svc := NewEligibilityService(activity)
	campaign := evalCampaign(models.EligibilityRule{Type: models.RuleStreak, StreakDays: 7})

	first := svc.Evaluate(context.Background(), "u1", campaign)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, svc.Evaluate(context.Background(), "u1", campaign))
	}
}
