package app

import (
	"context"
	"log"
	"time"

	"github.com/fundstream/launchpad-service/pkg/rabbitmq"
)

const reconcileBatchSize = 100

// ReconcileElapsedCampaigns announces active campaigns whose vesting window
// has fully elapsed, so downstream services can prompt creators to drain
// their pools. Each campaign is announced at most once; the scheduler invokes
// this periodically.
func (s *Service) ReconcileElapsedCampaigns(ctx context.Context) error {
	campaigns, err := s.repo.ListWindowElapsed(ctx, s.now(), reconcileBatchSize)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		return nil
	}
	log.Printf("level=info component=reconciler msg=\"announcing elapsed campaigns\" count=%d", len(campaigns))

	for _, campaign := range campaigns {
		s.publish(ctx, "campaign.window_elapsed", rabbitmq.CampaignEvent{
			CampaignID: campaign.ID,
			CreatorID:  campaign.CreatorID,
			Name:       campaign.Name,
			Amount:     campaign.PooledBalance,
			Timestamp:  time.Now(),
		})
		if err := s.repo.MarkWindowNotified(ctx, campaign.ID); err != nil {
			log.Printf("level=warn component=reconciler msg=\"failed to mark campaign notified\" campaign_id=%s err=%v", campaign.ID, err)
		}
	}
	return nil
}
