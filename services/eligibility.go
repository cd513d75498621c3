// services/eligibility.go
package services

import (
	"context"
	"fmt"

	"reading-rewards-system/models"
)

// EligibilityDecision is a normal decision outcome, not an error path.
type EligibilityDecision struct {
	Eligible    bool   `json:"eligible"`
	Reason      string `json:"reason,omitempty"`
	NeedsReview bool   `json:"needs_review,omitempty"`
}

// EligibilityService decides whether a user may claim against a campaign.
// Pure with respect to the campaign; reads the activity store only, never
// writes. Lookup failures fail closed: eligible=false with the error text
// as the reason.
type EligibilityService struct {
	Activity ActivityStore
}

func NewEligibilityService(activity ActivityStore) *EligibilityService {
	return &EligibilityService{Activity: activity}
}

func eligible() EligibilityDecision {
	return EligibilityDecision{Eligible: true}
}

func ineligible(format string, args ...interface{}) EligibilityDecision {
	return EligibilityDecision{Eligible: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate maps (user, campaign) to an eligibility decision given the
// campaign's configured rule. A campaign with no rule (zero Type) or an
// explicit "open" rule is universally eligible.
func (s *EligibilityService) Evaluate(ctx context.Context, userID string, campaign *models.Campaign) EligibilityDecision {
	rule := campaign.Eligibility

	switch rule.Type {
	case "", models.RuleOpen:
		return eligible()

	case models.RuleCommunity:
		member, err := s.Activity.IsCommunityMember(ctx, userID, rule.CommunityID)
		if err != nil {
			return ineligible("%v", err)
		}
		if !member {
			return ineligible("must be an active member of community %s", rule.CommunityID)
		}
		if rule.MinPosts > 0 {
			count, err := s.Activity.CountCommunityPosts(ctx, userID, rule.CommunityID)
			if err != nil {
				return ineligible("%v", err)
			}
			if count < int64(rule.MinPosts) {
				return ineligible("requires at least %d posts in community %s (you have %d)",
					rule.MinPosts, rule.CommunityID, count)
			}
		}
		return eligible()

	case models.RuleEngagement:
		if rule.MinPosts > 0 {
			count, err := s.Activity.CountPosts(ctx, userID)
			if err != nil {
				return ineligible("%v", err)
			}
			if count < int64(rule.MinPosts) {
				return ineligible("requires at least %d posts (you have %d)", rule.MinPosts, count)
			}
		}
		if rule.MinPostLikes > 0 {
			// Per-post threshold: at least one post with this many likes,
			// not a sum across posts.
			likes, err := s.Activity.PostLikeCounts(ctx, userID)
			if err != nil {
				return ineligible("%v", err)
			}
			met := false
			for _, l := range likes {
				if l >= int64(rule.MinPostLikes) {
					met = true
					break
				}
			}
			if !met {
				return ineligible("requires a post with at least %d likes", rule.MinPostLikes)
			}
		}
		if rule.MinComments > 0 {
			count, err := s.Activity.CountComments(ctx, userID)
			if err != nil {
				return ineligible("%v", err)
			}
			if count < int64(rule.MinComments) {
				return ineligible("requires at least %d comments (you have %d)", rule.MinComments, count)
			}
		}
		return eligible()

	case models.RuleStreak:
		streak, err := s.Activity.ReadingStreak(ctx, userID)
		if err != nil {
			return ineligible("%v", err)
		}
		if streak < int64(rule.StreakDays) {
			return ineligible("requires a %d-day reading streak (current: %d)", rule.StreakDays, streak)
		}
		return eligible()

	case models.RuleEvent:
		if !rule.MustAttend {
			return eligible()
		}
		attendees, err := s.Activity.EventAttendees(ctx, rule.EventID)
		if err != nil {
			return ineligible("%v", err)
		}
		for _, a := range attendees {
			if a == userID {
				return eligible()
			}
		}
		return ineligible("must have attended event %s", rule.EventID)

	case models.RulePurchase:
		// Purchase verification isn't wired to a payments source yet;
		// this is a passthrough, not a guarantee.
		return eligible()

	case models.RuleCustom:
		return EligibilityDecision{Eligible: true, NeedsReview: true, Reason: "custom rule — requires manual review"}

	default:
		return ineligible("unknown eligibility rule type %q", rule.Type)
	}
}
