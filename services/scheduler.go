// services/scheduler.go
package services

import (
	"log"
	"time"

	"reading-rewards-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartLifecycleScheduler runs the campaign lifecycle jobs. A draft campaign
// with a start_at in the past goes live; an active campaign past its end_at
// is completed. Setting start_at on a draft is how admins schedule a launch.
func (s *CampaignService) StartLifecycleScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: activate scheduled campaigns
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			var campaigns []models.Campaign
			now := time.Now()
			err := s.DB.Where("status = ? AND start_at IS NOT NULL AND start_at <= ?",
				models.CampaignStatusDraft, now).
				Find(&campaigns).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, cp := range campaigns {
				if cp.Distribution == models.DistributionPremint {
					var available int64
					s.DB.Model(&models.EscrowToken{}).
						Where("campaign_id = ?", cp.ID).
						Count(&available)
					if available == 0 {
						log.Printf("[Scheduler] Skipping campaign %s: escrow not provisioned", cp.ID)
						continue
					}
				}
				cp.Status = models.CampaignStatusActive
				if err := s.DB.Save(&cp).Error; err != nil {
					log.Printf("[Scheduler] Failed to activate campaign %s: %v", cp.ID, err)
				} else {
					log.Printf("✅ Auto-activated campaign: %s", cp.Name)
				}
			}
		}),
	)

	// Every minute: complete expired campaigns
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			now := time.Now()
			res := s.DB.Model(&models.Campaign{}).
				Where("status = ? AND end_at IS NOT NULL AND end_at <= ?",
					models.CampaignStatusActive, now).
				Update("status", models.CampaignStatusCompleted)
			if res.Error != nil {
				log.Printf("[Scheduler] DB error: %v", res.Error)
				return
			}
			if res.RowsAffected > 0 {
				log.Printf("✅ Completed %d expired campaigns", res.RowsAffected)
			}
		}),
	)
}
