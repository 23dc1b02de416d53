package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/fundstream/launchpad-service/internal/domain"
	"github.com/fundstream/launchpad-service/internal/store"
	"github.com/fundstream/launchpad-service/pkg/marketclient"
	"github.com/fundstream/launchpad-service/pkg/stakeclient"
)

const dayMillis = int64(86_400_000)

// fakeRepository is an in-memory store.Repository that runs the same domain
// transitions the Postgres implementation runs, without the row locks.
type fakeRepository struct {
	campaigns    map[uuid.UUID]*domain.Campaign
	caps         map[uuid.UUID]*domain.AdminCap
	records      map[uuid.UUID]*domain.DeployRecord
	tokens       map[uuid.UUID]*domain.RewardToken
	participants map[uuid.UUID]map[uuid.UUID]*domain.Participant

	failSetDelegation bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		campaigns:    make(map[uuid.UUID]*domain.Campaign),
		caps:         make(map[uuid.UUID]*domain.AdminCap),
		records:      make(map[uuid.UUID]*domain.DeployRecord),
		tokens:       make(map[uuid.UUID]*domain.RewardToken),
		participants: make(map[uuid.UUID]map[uuid.UUID]*domain.Participant),
	}
}

func (f *fakeRepository) CreateCampaign(ctx context.Context, c *domain.Campaign, cap *domain.AdminCap, rec *domain.DeployRecord) error {
	for _, existing := range f.records {
		if existing.Name == rec.Name {
			return store.ErrNameTaken
		}
	}
	f.campaigns[c.ID] = c
	f.caps[cap.ID] = cap
	f.records[rec.CampaignID] = rec
	return nil
}

func (f *fakeRepository) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	c, ok := f.campaigns[campaignID]
	if !ok {
		return nil, store.ErrCampaignNotFound
	}
	return c, nil
}

func (f *fakeRepository) GetAdminCap(ctx context.Context, capID uuid.UUID) (*domain.AdminCap, error) {
	cap, ok := f.caps[capID]
	if !ok {
		return nil, store.ErrCapabilityNotFound
	}
	return cap, nil
}

func (f *fakeRepository) GetDeployRecord(ctx context.Context, campaignID uuid.UUID) (*domain.DeployRecord, error) {
	rec, ok := f.records[campaignID]
	if !ok {
		return nil, store.ErrDeployRecordNotFound
	}
	return rec, nil
}

func (f *fakeRepository) ListParticipants(ctx context.Context, campaignID uuid.UUID) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range f.participants[campaignID] {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeRepository) GetToken(ctx context.Context, tokenID uuid.UUID) (*domain.RewardToken, error) {
	t, ok := f.tokens[tokenID]
	if !ok {
		return nil, store.ErrTokenNotFound
	}
	return t, nil
}

func (f *fakeRepository) MintAtomic(ctx context.Context, campaignID, supporterID, tokenID uuid.UUID, deposit, now int64) (*domain.RewardToken, *domain.MintResult, error) {
	c, err := f.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	var spent int64
	if p, ok := f.participants[campaignID][supporterID]; ok {
		spent = p.Spent
	}
	result, err := c.ApplyMint(spent, deposit, now)
	if err != nil {
		return nil, nil, err
	}
	token := &domain.RewardToken{
		ID:         tokenID,
		CampaignID: c.ID,
		OwnerID:    supporterID,
		Amount:     result.Amount,
		OwnBalance: result.TokenShare,
		Start:      c.StartTime,
		End:        c.EndTime,
	}
	f.tokens[tokenID] = token
	if f.participants[campaignID] == nil {
		f.participants[campaignID] = make(map[uuid.UUID]*domain.Participant)
	}
	if p, ok := f.participants[campaignID][supporterID]; ok {
		p.Spent += result.Consumed
	} else {
		f.participants[campaignID][supporterID] = &domain.Participant{
			CampaignID: campaignID, SupporterID: supporterID, Spent: result.Consumed,
		}
	}
	return token, result, nil
}

func (f *fakeRepository) ClaimAtomic(ctx context.Context, campaignID uuid.UUID, now int64) (int64, error) {
	c, err := f.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	return c.ApplyClaim(now)
}

func (f *fakeRepository) BurnAtomic(ctx context.Context, tokenID, ownerID uuid.UUID, now int64) (*domain.BurnResult, error) {
	t, err := f.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}
	c, err := f.GetCampaign(ctx, t.CampaignID)
	if err != nil {
		return nil, err
	}
	result, err := c.ApplyBurn(t, now)
	if err != nil {
		return nil, err
	}
	delete(f.tokens, tokenID)
	if p, ok := f.participants[c.ID][ownerID]; ok {
		p.Spent -= result.SpendReduction
		if p.Spent < 0 {
			p.Spent = 0
		}
	}
	return result, nil
}

func (f *fakeRepository) CancelAtomic(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	c, err := f.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := c.Cancel(); err != nil {
		return nil, err
	}
	return c, nil
}

func (f *fakeRepository) SweepAtomic(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	c, err := f.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	return c.Sweep()
}

func (f *fakeRepository) SplitAtomic(ctx context.Context, tokenID, ownerID, newTokenID uuid.UUID, splitAmount int64) (*domain.RewardToken, error) {
	t, err := f.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}
	fresh, err := t.SplitOff(newTokenID, splitAmount)
	if err != nil {
		return nil, err
	}
	f.tokens[newTokenID] = fresh
	return fresh, nil
}

func (f *fakeRepository) MergeAtomic(ctx context.Context, targetID, sourceID, ownerID uuid.UUID) (*domain.RewardToken, error) {
	target, err := f.GetToken(ctx, targetID)
	if err != nil {
		return nil, err
	}
	source, err := f.GetToken(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if target.OwnerID != ownerID || source.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}
	if err := target.MergeFrom(source); err != nil {
		return nil, err
	}
	delete(f.tokens, sourceID)
	return target, nil
}

func (f *fakeRepository) TransferToken(ctx context.Context, tokenID, ownerID, newOwnerID uuid.UUID) error {
	t, err := f.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.OwnerID != ownerID {
		return domain.ErrNotTokenOwner
	}
	t.OwnerID = newOwnerID
	return nil
}

func (f *fakeRepository) SetDelegation(ctx context.Context, tokenID uuid.UUID, kind domain.DelegationKind, receipt string, moved int64) error {
	if f.failSetDelegation {
		return errors.New("simulated write failure")
	}
	t, err := f.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.DelegationKind != domain.DelegationNone || t.OwnBalance != moved {
		return store.ErrDelegationConflict
	}
	t.DelegationKind = kind
	t.DelegationReceipt = receipt
	t.OwnBalance = 0
	return nil
}

func (f *fakeRepository) ClearDelegation(ctx context.Context, tokenID uuid.UUID, kind domain.DelegationKind, returned int64) error {
	t, err := f.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.DelegationKind != kind {
		return store.ErrDelegationConflict
	}
	t.DelegationKind = domain.DelegationNone
	t.DelegationReceipt = ""
	t.OwnBalance += returned
	return nil
}

func (f *fakeRepository) MarkDeployFeeSettled(ctx context.Context, campaignID uuid.UUID) error {
	rec, ok := f.records[campaignID]
	if !ok {
		return store.ErrDeployRecordNotFound
	}
	rec.FeeSettled = true
	return nil
}

func (f *fakeRepository) DeregisterName(ctx context.Context, campaignID uuid.UUID) error {
	if _, ok := f.records[campaignID]; !ok {
		return store.ErrDeployRecordNotFound
	}
	delete(f.records, campaignID)
	return nil
}

func (f *fakeRepository) ListWindowElapsed(ctx context.Context, now int64, limit int) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, c := range f.campaigns {
		if c.Active && !c.Cancelled && !c.WindowNotified && c.EndTime <= now {
			out = append(out, *c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepository) MarkWindowNotified(ctx context.Context, campaignID uuid.UUID) error {
	c, ok := f.campaigns[campaignID]
	if !ok {
		return store.ErrCampaignNotFound
	}
	c.WindowNotified = true
	return nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type capturePublisher struct {
	events []publishedEvent
}

func (p *capturePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.events = append(p.events, publishedEvent{exchange, routingKey, body})
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) keys() []string {
	var out []string
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

type fakeStakeSource struct {
	deposits   []int64
	target     string
	withdrawn  []string
	withdrawal int64
}

func (f *fakeStakeSource) Deposit(ctx context.Context, amount int64, target string) (*stakeclient.DepositResponse, error) {
	f.deposits = append(f.deposits, amount)
	f.target = target
	resp := &stakeclient.DepositResponse{}
	resp.Data.Receipt = fmt.Sprintf("stake-receipt-%d", len(f.deposits))
	resp.Data.Amount = amount
	return resp, nil
}

func (f *fakeStakeSource) Withdraw(ctx context.Context, receipt string) (*stakeclient.WithdrawResponse, error) {
	f.withdrawn = append(f.withdrawn, receipt)
	resp := &stakeclient.WithdrawResponse{}
	resp.Data.Amount = f.withdrawal
	return resp, nil
}

type fakeMarketSource struct {
	deposits   []int64
	withdrawn  []string
	withdrawal int64
}

func (f *fakeMarketSource) Deposit(ctx context.Context, amount int64) (*marketclient.DepositResponse, error) {
	f.deposits = append(f.deposits, amount)
	resp := &marketclient.DepositResponse{}
	resp.Data.Receipt = fmt.Sprintf("market-receipt-%d", len(f.deposits))
	resp.Data.Amount = amount
	return resp, nil
}

func (f *fakeMarketSource) Withdraw(ctx context.Context, receipt string) (*marketclient.WithdrawResponse, error) {
	f.withdrawn = append(f.withdrawn, receipt)
	resp := &marketclient.WithdrawResponse{}
	resp.Data.Amount = f.withdrawal
	return resp, nil
}

type fixture struct {
	repo    *fakeRepository
	pub     *capturePublisher
	stake   *fakeStakeSource
	market  *fakeMarketSource
	service *Service
	now     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newFakeRepository(),
		pub:    &capturePublisher{},
		stake:  &fakeStakeSource{},
		market: &fakeMarketSource{},
		now:    1_000 + dayMillis,
	}
	f.service = NewService(f.repo, f.stake, f.market, f.pub, "validator-1", 2_500)
	f.service.now = func() int64 { return f.now }
	return f
}

func (f *fixture) registerCampaign(t *testing.T) (*domain.Campaign, *domain.AdminCap) {
	t.Helper()
	campaign, adminCap, err := f.service.RegisterCampaign(context.Background(), RegisterCampaignParams{
		CreatorID:      uuid.New(),
		Name:           "orbital-lens",
		StartTime:      1_000,
		EndTime:        1_000 + 10*dayMillis,
		Ratio:          80,
		ThresholdRatio: 50,
		AmountPerUnit:  domain.UnitBase,
		TotalSupply:    1_000,
		MinValue:       10,
		MaxValue:       600,
	})
	if err != nil {
		t.Fatalf("RegisterCampaign failed: %v", err)
	}
	return campaign, adminCap
}

func TestRegisterCampaignRejectsBadParams(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.RegisterCampaign(context.Background(), RegisterCampaignParams{
		CreatorID:      uuid.New(),
		Name:           "bad",
		StartTime:      1_000,
		EndTime:        1_000 + 10*dayMillis,
		Ratio:          120,
		ThresholdRatio: 50,
		AmountPerUnit:  domain.UnitBase,
		TotalSupply:    1_000,
	})
	if !errors.Is(err, domain.ErrInvalidRatio) {
		t.Fatalf("expected ErrInvalidRatio, got %v", err)
	}
	if len(f.repo.campaigns) != 0 {
		t.Fatalf("expected nothing persisted, got %d campaigns", len(f.repo.campaigns))
	}
	if len(f.pub.events) != 0 {
		t.Fatalf("expected no events, got %v", f.pub.keys())
	}
}

func TestRegisterCampaignPersistsAndAnnounces(t *testing.T) {
	f := newFixture(t)
	campaign, adminCap := f.registerCampaign(t)

	if !adminCap.Check(campaign.ID) {
		t.Fatalf("expected capability bound to campaign %s", campaign.ID)
	}
	rec, err := f.repo.GetDeployRecord(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("expected deploy record, got %v", err)
	}
	if rec.FeeAmount != 2_500 || rec.FeeSettled {
		t.Fatalf("expected unsettled fee of 2500, got %+v", rec)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].routingKey != "campaign.registered" {
		t.Fatalf("expected campaign.registered event, got %v", f.pub.keys())
	}
}

func TestRegisterCampaignRejectsDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.registerCampaign(t)

	_, _, err := f.service.RegisterCampaign(context.Background(), RegisterCampaignParams{
		CreatorID:      uuid.New(),
		Name:           "orbital-lens",
		StartTime:      1_000,
		EndTime:        1_000 + 10*dayMillis,
		Ratio:          80,
		ThresholdRatio: 50,
		AmountPerUnit:  domain.UnitBase,
		TotalSupply:    1_000,
	})
	if !errors.Is(err, store.ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	f := newFixture(t)
	campaign, adminCap := f.registerCampaign(t)

	if err := f.service.AuthorizeAdmin(context.Background(), adminCap.ID, campaign.ID); err != nil {
		t.Fatalf("expected capability to authorize, got %v", err)
	}
	if err := f.service.AuthorizeAdmin(context.Background(), adminCap.ID, uuid.New()); !errors.Is(err, domain.ErrCapabilityMismatch) {
		t.Fatalf("expected ErrCapabilityMismatch, got %v", err)
	}
	if err := f.service.AuthorizeAdmin(context.Background(), uuid.New(), campaign.ID); !errors.Is(err, store.ErrCapabilityNotFound) {
		t.Fatalf("expected ErrCapabilityNotFound, got %v", err)
	}
}

func TestMintIssuesTokenAndAnnouncesActivation(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()

	token, result, err := f.service.Mint(context.Background(), campaign.ID, supporter, 500)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if token.Amount != 500 || token.OwnBalance != 100 {
		t.Fatalf("expected 500 shares with own balance 100, got %d/%d", token.Amount, token.OwnBalance)
	}
	if !result.Activated {
		t.Fatal("expected mint to cross the activation threshold")
	}
	keys := f.pub.keys()
	// registration, mint and activation in order
	if len(keys) != 3 || keys[1] != "token.minted" || keys[2] != "campaign.activated" {
		t.Fatalf("unexpected event sequence: %v", keys)
	}
}

func TestClaimAnnouncesCreatorDrain(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	if _, _, err := f.service.Mint(context.Background(), campaign.ID, uuid.New(), 500); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	// Midpoint of the 10-day window: half of the 400 pooled units have vested.
	f.now = 1_000 + 5*dayMillis
	claimed, err := f.service.Claim(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed != 200 {
		t.Fatalf("expected 200 claimed at midpoint, got %d", claimed)
	}
	keys := f.pub.keys()
	if keys[len(keys)-1] != "creator.claimed" {
		t.Fatalf("expected creator.claimed event, got %v", keys)
	}

	// Nothing newly vested; no event for a zero claim.
	before := len(f.pub.events)
	claimed, err = f.service.Claim(context.Background(), campaign.ID)
	if err != nil || claimed != 0 {
		t.Fatalf("expected idempotent zero claim, got %d, %v", claimed, err)
	}
	if len(f.pub.events) != before {
		t.Fatalf("expected no event for zero claim, got %v", f.pub.keys())
	}
}

func TestBurnDestroysTokenAndAnnounces(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()
	token, _, err := f.service.Mint(context.Background(), campaign.ID, supporter, 500)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	result, err := f.service.Burn(context.Background(), token.ID, supporter)
	if err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if result.Payout != result.PoolShare+result.OwnBalance {
		t.Fatalf("inconsistent burn result: %+v", result)
	}
	if _, err := f.service.GetToken(context.Background(), token.ID); !errors.Is(err, store.ErrTokenNotFound) {
		t.Fatalf("expected token destroyed, got %v", err)
	}
	keys := f.pub.keys()
	if keys[len(keys)-1] != "token.burned" {
		t.Fatalf("expected token.burned event, got %v", keys)
	}
}

func TestBurnRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	token, _, err := f.service.Mint(context.Background(), campaign.ID, uuid.New(), 100)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := f.service.Burn(context.Background(), token.ID, uuid.New()); !errors.Is(err, domain.ErrNotTokenOwner) {
		t.Fatalf("expected ErrNotTokenOwner, got %v", err)
	}
}

func TestDelegateStakeMovesBalance(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()
	token, _, err := f.service.Mint(context.Background(), campaign.ID, supporter, 100)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	updated, err := f.service.Delegate(context.Background(), token.ID, supporter, domain.DelegationStake)
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	if updated.OwnBalance != 0 || updated.DelegationKind != domain.DelegationStake {
		t.Fatalf("expected balance moved into stake delegation, got %+v", updated)
	}
	if len(f.stake.deposits) != 1 || f.stake.deposits[0] != 20 {
		t.Fatalf("expected one stake deposit of 20, got %v", f.stake.deposits)
	}
	if f.stake.target != "validator-1" {
		t.Fatalf("expected configured validator target, got %q", f.stake.target)
	}

	// One live delegation at a time.
	if _, err := f.service.Delegate(context.Background(), token.ID, supporter, domain.DelegationMarket); !errors.Is(err, domain.ErrTokenDelegated) {
		t.Fatalf("expected ErrTokenDelegated, got %v", err)
	}
}

func TestDelegateCompensatesWhenRecordFails(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()
	token, _, err := f.service.Mint(context.Background(), campaign.ID, supporter, 100)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	f.repo.failSetDelegation = true
	if _, err := f.service.Delegate(context.Background(), token.ID, supporter, domain.DelegationStake); err == nil {
		t.Fatal("expected delegation to fail")
	}
	// The external deposit must have been withdrawn again.
	if len(f.stake.withdrawn) != 1 || f.stake.withdrawn[0] != "stake-receipt-1" {
		t.Fatalf("expected compensating withdrawal of stake-receipt-1, got %v", f.stake.withdrawn)
	}
	stored, err := f.service.GetToken(context.Background(), token.ID)
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if stored.Delegated() || stored.OwnBalance != 20 {
		t.Fatalf("expected token untouched, got %+v", stored)
	}
}

func TestRecallMergesYieldBack(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()
	token, _, err := f.service.Mint(context.Background(), campaign.ID, supporter, 100)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := f.service.Delegate(context.Background(), token.ID, supporter, domain.DelegationMarket); err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}

	// Recall against the wrong source is rejected.
	if _, err := f.service.Recall(context.Background(), token.ID, supporter, domain.DelegationStake); !errors.Is(err, domain.ErrDelegationMismatch) {
		t.Fatalf("expected ErrDelegationMismatch, got %v", err)
	}

	f.market.withdrawal = 23 // 20 principal + 3 yield
	updated, err := f.service.Recall(context.Background(), token.ID, supporter, domain.DelegationMarket)
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if updated.OwnBalance != 23 || updated.Delegated() {
		t.Fatalf("expected balance 23 and delegation cleared, got %+v", updated)
	}
	if len(f.market.withdrawn) != 1 || f.market.withdrawn[0] != "market-receipt-1" {
		t.Fatalf("expected withdrawal of market-receipt-1, got %v", f.market.withdrawn)
	}
}

func TestRecallRequiresLiveDelegation(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()
	token, _, err := f.service.Mint(context.Background(), campaign.ID, supporter, 100)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := f.service.Recall(context.Background(), token.ID, supporter, domain.DelegationStake); !errors.Is(err, domain.ErrNotDelegated) {
		t.Fatalf("expected ErrNotDelegated, got %v", err)
	}
}

func TestCancelThenBurnThenSweep(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	supporter := uuid.New()
	token, _, err := f.service.Mint(context.Background(), campaign.ID, supporter, 500)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if _, err := f.service.Cancel(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	// Sweep before all tokens are burned is rejected.
	if _, err := f.service.Sweep(context.Background(), campaign.ID); !errors.Is(err, domain.ErrSupplyOutstanding) {
		t.Fatalf("expected ErrSupplyOutstanding, got %v", err)
	}

	result, err := f.service.Burn(context.Background(), token.ID, supporter)
	if err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	// Sole token on a cancelled campaign recovers the whole pool.
	if result.PoolShare != 400 || result.Payout != 500 {
		t.Fatalf("expected full recovery of 500, got %+v", result)
	}

	dust, err := f.service.Sweep(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if dust != 0 {
		t.Fatalf("expected no dust after exact recovery, got %d", dust)
	}
	// The name is released for reuse.
	if _, err := f.repo.GetDeployRecord(context.Background(), campaign.ID); !errors.Is(err, store.ErrDeployRecordNotFound) {
		t.Fatalf("expected deploy record released, got %v", err)
	}
	keys := f.pub.keys()
	if keys[len(keys)-1] != "campaign.swept" {
		t.Fatalf("expected campaign.swept event, got %v", keys)
	}
}

func TestReconcileElapsedCampaigns(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	if _, _, err := f.service.Mint(context.Background(), campaign.ID, uuid.New(), 500); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	// Window not elapsed yet; nothing to announce.
	before := len(f.pub.events)
	if err := f.service.ReconcileElapsedCampaigns(context.Background()); err != nil {
		t.Fatalf("ReconcileElapsedCampaigns failed: %v", err)
	}
	if len(f.pub.events) != before {
		t.Fatalf("expected no events before window elapse, got %v", f.pub.keys())
	}

	f.now = campaign.EndTime + dayMillis
	if err := f.service.ReconcileElapsedCampaigns(context.Background()); err != nil {
		t.Fatalf("ReconcileElapsedCampaigns failed: %v", err)
	}
	keys := f.pub.keys()
	if keys[len(keys)-1] != "campaign.window_elapsed" {
		t.Fatalf("expected campaign.window_elapsed event, got %v", keys)
	}

	// Announced at most once.
	before = len(f.pub.events)
	if err := f.service.ReconcileElapsedCampaigns(context.Background()); err != nil {
		t.Fatalf("ReconcileElapsedCampaigns failed: %v", err)
	}
	if len(f.pub.events) != before {
		t.Fatalf("expected no repeat announcement, got %v", f.pub.keys())
	}
}

func TestDeployFeeConsumer(t *testing.T) {
	f := newFixture(t)
	campaign, _ := f.registerCampaign(t)
	consumer := NewDeployFeeConsumer(f.service)

	// Malformed payloads are dropped, not re-queued.
	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatal("expected malformed payload to be acknowledged")
	}
	// Unknown campaigns are dropped too.
	body := fmt.Sprintf(`{"campaign_id":%q,"amount":2500}`, uuid.New())
	if !consumer.HandleMessage([]byte(body)) {
		t.Fatal("expected unknown campaign to be acknowledged")
	}

	body = fmt.Sprintf(`{"campaign_id":%q,"amount":2500}`, campaign.ID)
	if !consumer.HandleMessage([]byte(body)) {
		t.Fatal("expected settlement to be acknowledged")
	}
	rec, err := f.repo.GetDeployRecord(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("GetDeployRecord failed: %v", err)
	}
	if !rec.FeeSettled {
		t.Fatal("expected deploy fee marked settled")
	}
}
