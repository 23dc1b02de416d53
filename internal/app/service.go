/**
 * @description
 * This file contains the core business logic for the launchpad-service. The
 * `Service` struct orchestrates all campaign and reward-token operations,
 * coordinating between the database repository, the external yield source
 * clients, and the message broker.
 *
 * Key features:
 * - Implements the main use cases: campaign registration, shares minting,
 *   creator claims, burns, token split/merge/transfer and yield delegation.
 * - Delegates the ledger arithmetic to the domain package; the atomic
 *   repository methods run it under row locks.
 * - Publishes lifecycle events to RabbitMQ for asynchronous processing by
 *   other services (treasury, notifications).
 *
 * @dependencies
 * - context, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stakeclient, pkg/marketclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/fundstream/launchpad-service/internal/domain"
	"github.com/fundstream/launchpad-service/internal/store"
	"github.com/fundstream/launchpad-service/pkg/marketclient"
	"github.com/fundstream/launchpad-service/pkg/rabbitmq"
	"github.com/fundstream/launchpad-service/pkg/stakeclient"
)

// StakeYieldSource is the slice of the staking platform client the service uses.
type StakeYieldSource interface {
	Deposit(ctx context.Context, amount int64, target string) (*stakeclient.DepositResponse, error)
	Withdraw(ctx context.Context, receipt string) (*stakeclient.WithdrawResponse, error)
}

// MarketYieldSource is the slice of the money market client the service uses.
type MarketYieldSource interface {
	Deposit(ctx context.Context, amount int64) (*marketclient.DepositResponse, error)
	Withdraw(ctx context.Context, receipt string) (*marketclient.WithdrawResponse, error)
}

// MintRateLimiter is the distributed limiter guarding mint traffic.
type MintRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitedError is returned when a supporter exceeds the mint rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// RegisterCampaignParams carries the creator-supplied campaign parameters.
type RegisterCampaignParams struct {
	CreatorID      uuid.UUID
	Name           string
	StartTime      int64
	EndTime        int64
	Ratio          int64
	ThresholdRatio int64
	AmountPerUnit  int64
	TotalSupply    int64
	MinValue       int64
	MaxValue       int64
}

// Service provides the core business logic for the launchpad ledger.
type Service struct {
	repo          store.Repository
	stakeClient   StakeYieldSource
	marketClient  MarketYieldSource
	eventProducer rabbitmq.Publisher
	stakeTarget   string
	deployFee     int64

	rateLimiter            MintRateLimiter
	mintRateLimitPerMinute int

	// now returns the current ledger time in unix milliseconds. Injected so
	// tests can pin the clock.
	now func() int64
}

// NewService creates a new launchpad service instance.
func NewService(repo store.Repository, stake StakeYieldSource, market MarketYieldSource, producer rabbitmq.Publisher, stakeTarget string, deployFee int64) *Service {
	return &Service{
		repo:          repo,
		stakeClient:   stake,
		marketClient:  market,
		eventProducer: producer,
		stakeTarget:   stakeTarget,
		deployFee:     deployFee,
		now:           func() int64 { return time.Now().UnixMilli() },
	}
}

// SetMintRateLimiter installs the distributed mint rate limiter. A nil
// limiter or a non-positive limit disables rate limiting.
func (s *Service) SetMintRateLimiter(limiter MintRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.mintRateLimitPerMinute = perMinute
}

// RegisterCampaign validates the creator-supplied parameters, persists the new
// campaign ledger with its admin capability and registry record, and announces
// the registration.
func (s *Service) RegisterCampaign(ctx context.Context, params RegisterCampaignParams) (*domain.Campaign, *domain.AdminCap, error) {
	campaign := &domain.Campaign{
		ID:             uuid.New(),
		CreatorID:      params.CreatorID,
		Name:           params.Name,
		Version:        domain.LedgerVersion,
		StartTime:      params.StartTime,
		EndTime:        params.EndTime,
		Ratio:          params.Ratio,
		ThresholdRatio: params.ThresholdRatio,
		AmountPerUnit:  params.AmountPerUnit,
		TotalSupply:    params.TotalSupply,
		Remain:         params.TotalSupply,
		MinValue:       params.MinValue,
		MaxValue:       params.MaxValue,
	}
	if err := campaign.Validate(); err != nil {
		return nil, nil, err
	}

	adminCap := &domain.AdminCap{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
	}
	deployRecord := &domain.DeployRecord{
		CampaignID: campaign.ID,
		Name:       campaign.Name,
		FeeAmount:  s.deployFee,
	}

	if err := s.repo.CreateCampaign(ctx, campaign, adminCap, deployRecord); err != nil {
		return nil, nil, err
	}
	log.Printf("level=info component=service op=register_campaign campaign_id=%s name=%q creator_id=%s supply=%d", campaign.ID, campaign.Name, campaign.CreatorID, campaign.TotalSupply)

	s.publish(ctx, "campaign.registered", rabbitmq.CampaignEvent{
		CampaignID: campaign.ID,
		CreatorID:  campaign.CreatorID,
		Name:       campaign.Name,
		Amount:     s.deployFee,
		Timestamp:  time.Now(),
	})

	return campaign, adminCap, nil
}

// GetCampaign retrieves a campaign ledger by id.
func (s *Service) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, campaignID)
}

// ListParticipants retrieves the participant list of a campaign.
func (s *Service) ListParticipants(ctx context.Context, campaignID uuid.UUID) ([]domain.Participant, error) {
	return s.repo.ListParticipants(ctx, campaignID)
}

// GetToken retrieves a reward token by id.
func (s *Service) GetToken(ctx context.Context, tokenID uuid.UUID) (*domain.RewardToken, error) {
	return s.repo.GetToken(ctx, tokenID)
}

// AuthorizeAdmin verifies that the presented capability grants admin rights
// over the given campaign.
func (s *Service) AuthorizeAdmin(ctx context.Context, capID, campaignID uuid.UUID) error {
	adminCap, err := s.repo.GetAdminCap(ctx, capID)
	if err != nil {
		return err
	}
	if !adminCap.Check(campaignID) {
		return domain.ErrCapabilityMismatch
	}
	return nil
}

// Mint charges the supporter's deposit against the campaign and issues a new
// reward token carrying the purchased shares.
func (s *Service) Mint(ctx context.Context, campaignID, supporterID uuid.UUID, deposit int64) (*domain.RewardToken, *domain.MintResult, error) {
	if s.rateLimiter != nil && s.mintRateLimitPerMinute > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "mint", supporterID.String(), s.mintRateLimitPerMinute, time.Minute)
		if err != nil {
			// The limiter being down must not block the ledger.
			log.Printf("level=warn component=service op=mint msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > s.mintRateLimitPerMinute {
			return nil, nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	token, result, err := s.repo.MintAtomic(ctx, campaignID, supporterID, uuid.New(), deposit, s.now())
	if err != nil {
		return nil, nil, err
	}
	log.Printf("level=info component=service op=mint campaign_id=%s supporter_id=%s shares=%d consumed=%d activated=%v", campaignID, supporterID, token.Amount, result.Consumed, result.Activated)

	s.publish(ctx, "token.minted", rabbitmq.TokenEvent{
		TokenID:    token.ID,
		CampaignID: campaignID,
		OwnerID:    supporterID,
		Shares:     token.Amount,
		Value:      result.Consumed,
		Timestamp:  time.Now(),
	})
	if result.Activated {
		campaign, lookupErr := s.repo.GetCampaign(ctx, campaignID)
		if lookupErr != nil {
			log.Printf("level=warn component=service op=mint msg=\"activation event lookup failed\" campaign_id=%s err=%v", campaignID, lookupErr)
		} else {
			s.publish(ctx, "campaign.activated", rabbitmq.CampaignEvent{
				CampaignID: campaign.ID,
				CreatorID:  campaign.CreatorID,
				Name:       campaign.Name,
				Timestamp:  time.Now(),
			})
		}
	}

	return token, result, nil
}

// Claim drains the vested portion of the campaign pool for the creator.
func (s *Service) Claim(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	claimed, err := s.repo.ClaimAtomic(ctx, campaignID, s.now())
	if err != nil {
		return 0, err
	}
	log.Printf("level=info component=service op=claim campaign_id=%s amount=%d", campaignID, claimed)

	if claimed > 0 {
		campaign, lookupErr := s.repo.GetCampaign(ctx, campaignID)
		if lookupErr != nil {
			log.Printf("level=warn component=service op=claim msg=\"claim event lookup failed\" campaign_id=%s err=%v", campaignID, lookupErr)
		} else {
			s.publish(ctx, "creator.claimed", rabbitmq.ClaimEvent{
				CampaignID: campaign.ID,
				CreatorID:  campaign.CreatorID,
				Amount:     claimed,
				Timestamp:  time.Now(),
			})
		}
	}
	return claimed, nil
}

// Burn redeems a reward token for its share of the still-locked pool and
// destroys it.
func (s *Service) Burn(ctx context.Context, tokenID, ownerID uuid.UUID) (*domain.BurnResult, error) {
	token, err := s.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.BurnAtomic(ctx, tokenID, ownerID, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=burn token_id=%s campaign_id=%s payout=%d", tokenID, token.CampaignID, result.Payout)

	s.publish(ctx, "token.burned", rabbitmq.TokenEvent{
		TokenID:    tokenID,
		CampaignID: token.CampaignID,
		OwnerID:    ownerID,
		Shares:     token.Amount,
		Value:      result.Payout,
		Timestamp:  time.Now(),
	})
	return result, nil
}

// Split carves a new reward token out of an existing one.
func (s *Service) Split(ctx context.Context, tokenID, ownerID uuid.UUID, splitAmount int64) (*domain.RewardToken, error) {
	return s.repo.SplitAtomic(ctx, tokenID, ownerID, uuid.New(), splitAmount)
}

// Merge folds the source token into the target token.
func (s *Service) Merge(ctx context.Context, targetID, sourceID, ownerID uuid.UUID) (*domain.RewardToken, error) {
	return s.repo.MergeAtomic(ctx, targetID, sourceID, ownerID)
}

// Transfer reassigns ownership of a reward token.
func (s *Service) Transfer(ctx context.Context, tokenID, ownerID, newOwnerID uuid.UUID) error {
	return s.repo.TransferToken(ctx, tokenID, ownerID, newOwnerID)
}

// Delegate moves the token's spendable balance into the requested yield
// source and records the receipt on the token. A token can hold at most one
// live delegation.
func (s *Service) Delegate(ctx context.Context, tokenID, ownerID uuid.UUID, kind domain.DelegationKind) (*domain.RewardToken, error) {
	token, err := s.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if token.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}
	if token.Delegated() {
		return nil, domain.ErrTokenDelegated
	}
	if token.OwnBalance <= 0 {
		return nil, domain.ErrNothingToDelegate
	}

	moved := token.OwnBalance
	var receipt string
	switch kind {
	case domain.DelegationStake:
		resp, err := s.stakeClient.Deposit(ctx, moved, s.stakeTarget)
		if err != nil {
			return nil, fmt.Errorf("stake deposit failed: %w", err)
		}
		receipt = resp.Data.Receipt
	case domain.DelegationMarket:
		resp, err := s.marketClient.Deposit(ctx, moved)
		if err != nil {
			return nil, fmt.Errorf("market deposit failed: %w", err)
		}
		receipt = resp.Data.Receipt
	default:
		return nil, domain.ErrDelegationMismatch
	}

	if err := s.repo.SetDelegation(ctx, tokenID, kind, receipt, moved); err != nil {
		// The external deposit went through but the ledger did not record it.
		// Compensate by withdrawing the receipt; if that also fails the
		// receipt must be recovered by hand.
		log.Printf("CRITICAL: delegation record failed for token %s after external deposit (kind=%s receipt=%s): %v", tokenID, kind, receipt, err)
		if compErr := s.withdrawReceipt(ctx, kind, receipt); compErr != nil {
			log.Printf("CRITICAL: compensating withdrawal failed for token %s (kind=%s receipt=%s): %v", tokenID, kind, receipt, compErr)
		}
		return nil, err
	}
	log.Printf("level=info component=service op=delegate token_id=%s kind=%s amount=%d", tokenID, kind, moved)

	return s.repo.GetToken(ctx, tokenID)
}

// Recall withdraws the token's delegated balance, including any accrued
// yield, back into the token.
func (s *Service) Recall(ctx context.Context, tokenID, ownerID uuid.UUID, kind domain.DelegationKind) (*domain.RewardToken, error) {
	token, err := s.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if token.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}
	if !token.Delegated() {
		return nil, domain.ErrNotDelegated
	}
	if token.DelegationKind != kind {
		return nil, domain.ErrDelegationMismatch
	}

	var returned int64
	switch kind {
	case domain.DelegationStake:
		resp, err := s.stakeClient.Withdraw(ctx, token.DelegationReceipt)
		if err != nil {
			return nil, fmt.Errorf("stake withdrawal failed: %w", err)
		}
		returned = resp.Data.Amount
	case domain.DelegationMarket:
		resp, err := s.marketClient.Withdraw(ctx, token.DelegationReceipt)
		if err != nil {
			return nil, fmt.Errorf("market withdrawal failed: %w", err)
		}
		returned = resp.Data.Amount
	default:
		return nil, domain.ErrDelegationMismatch
	}

	if err := s.repo.ClearDelegation(ctx, tokenID, kind, returned); err != nil {
		log.Printf("CRITICAL: recall record failed for token %s after external withdrawal (kind=%s amount=%d): %v", tokenID, kind, returned, err)
		return nil, err
	}
	log.Printf("level=info component=service op=recall token_id=%s kind=%s amount=%d", tokenID, kind, returned)

	return s.repo.GetToken(ctx, tokenID)
}

// Cancel permanently halts a campaign. Authorization is the caller's
// responsibility (admin capability or recovery key).
func (s *Service) Cancel(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.CancelAtomic(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=service op=cancel campaign_id=%s pooled=%d supply=%d", campaign.ID, campaign.PooledBalance, campaign.CurrentSupply)

	s.publish(ctx, "campaign.cancelled", rabbitmq.CampaignEvent{
		CampaignID: campaign.ID,
		CreatorID:  campaign.CreatorID,
		Name:       campaign.Name,
		Timestamp:  time.Now(),
	})
	return campaign, nil
}

// Sweep drains the residual dust of a cancelled, fully burned campaign and
// releases its name from the registry.
func (s *Service) Sweep(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	dust, err := s.repo.SweepAtomic(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	log.Printf("level=info component=service op=sweep campaign_id=%s dust=%d", campaignID, dust)

	if err := s.repo.DeregisterName(ctx, campaignID); err != nil {
		log.Printf("level=warn component=service op=sweep msg=\"name release failed\" campaign_id=%s err=%v", campaignID, err)
	}

	campaign, lookupErr := s.repo.GetCampaign(ctx, campaignID)
	if lookupErr != nil {
		log.Printf("level=warn component=service op=sweep msg=\"sweep event lookup failed\" campaign_id=%s err=%v", campaignID, lookupErr)
	} else {
		s.publish(ctx, "campaign.swept", rabbitmq.CampaignEvent{
			CampaignID: campaign.ID,
			CreatorID:  campaign.CreatorID,
			Name:       campaign.Name,
			Amount:     dust,
			Timestamp:  time.Now(),
		})
	}
	return dust, nil
}

// MarkDeployFeeSettled flags a campaign's registry fee as settled. Called by
// the treasury event consumer.
func (s *Service) MarkDeployFeeSettled(ctx context.Context, campaignID uuid.UUID) error {
	return s.repo.MarkDeployFeeSettled(ctx, campaignID)
}

func (s *Service) withdrawReceipt(ctx context.Context, kind domain.DelegationKind, receipt string) error {
	switch kind {
	case domain.DelegationStake:
		_, err := s.stakeClient.Withdraw(ctx, receipt)
		return err
	case domain.DelegationMarket:
		_, err := s.marketClient.Withdraw(ctx, receipt)
		return err
	}
	return domain.ErrDelegationMismatch
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.LaunchpadExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
