package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/fundstream/launchpad-service/internal/store"
)

// DeployFeeSettledEvent is the payload the treasury publishes once a
// campaign's registry deploy fee has been collected.
type DeployFeeSettledEvent struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Amount     int64     `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeployFeeConsumer applies treasury settlement events to the registry.
type DeployFeeConsumer struct {
	service *Service
}

func NewDeployFeeConsumer(service *Service) *DeployFeeConsumer {
	return &DeployFeeConsumer{service: service}
}

// HandleMessage processes a single settlement event. Returning true
// acknowledges the delivery; false re-queues it.
func (c *DeployFeeConsumer) HandleMessage(body []byte) bool {
	var event DeployFeeSettledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("deploy-fee-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.CampaignID == uuid.Nil {
		log.Printf("deploy-fee-consumer: missing campaign id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.MarkDeployFeeSettled(ctx, event.CampaignID); err != nil {
		if errors.Is(err, store.ErrDeployRecordNotFound) {
			// Already swept or never registered here; nothing to settle.
			log.Printf("deploy-fee-consumer: no deploy record for campaign %s; acknowledging", event.CampaignID)
			return true
		}
		log.Printf("deploy-fee-consumer: processing error for campaign %s: %v", event.CampaignID, err)
		return false
	}

	return true
}
