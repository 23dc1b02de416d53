/**
 * @description
 * This file defines the campaign ledger: the per-campaign state that owns the
 * pooled deposit balance and the share supply counters, together with the
 * state transitions for minting, creator claims, supporter burns, cancellation
 * and the post-cancellation sweep.
 *
 * The transition methods are pure with respect to the outside world: they take
 * the current time as an argument, mutate only the receiver, and return a
 * typed error without touching state when any precondition fails. The store
 * layer runs them inside a row-locked transaction so that operations on the
 * same ledger never interleave.
 *
 * @notes
 * - Balances are int64 minor units; shares are int64 counts.
 * - Timestamps are Unix milliseconds.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// LedgerVersion is checked by every mutating operation so that records
	// written by an incompatible deployment are rejected instead of corrupted.
	LedgerVersion = 1

	// UnitBase is the denominator of the deposit-to-share conversion:
	// shares = deposit * AmountPerUnit / UnitBase. A campaign with
	// AmountPerUnit == UnitBase mints one share per minor unit deposited.
	UnitBase = 1000

	// MinVestingWindowMillis is the anti-griefing floor on window length.
	MinVestingWindowMillis = int64(24 * time.Hour / time.Millisecond)
)

// Campaign is the ledger record for one funding round. It owns the pooled
// balance and the supply counters; reward tokens hold claims against it.
type Campaign struct {
	ID             uuid.UUID `json:"id"`
	CreatorID      uuid.UUID `json:"creator_id"`
	Name           string    `json:"name"`
	Version        int32     `json:"version"`
	StartTime      int64     `json:"start_time"` // unix millis, inclusive
	EndTime        int64     `json:"end_time"`   // unix millis, exclusive
	Ratio          int64     `json:"ratio"`           // percent of each deposit streamed into the pool
	ThresholdRatio int64     `json:"threshold_ratio"` // percent of supply sold that activates the campaign
	AmountPerUnit  int64     `json:"amount_per_unit"` // shares granted per UnitBase deposited
	TotalSupply    int64     `json:"total_supply"`
	Remain         int64     `json:"remain"`
	CurrentSupply  int64     `json:"current_supply"`
	PooledBalance  int64     `json:"pooled_balance"`
	TotalClaimed   int64     `json:"total_claimed"`
	MinValue       int64     `json:"min_value"` // 0 = no minimum
	MaxValue       int64     `json:"max_value"` // 0 = no per-participant cap
	TxCount        int64     `json:"tx_count"`
	Active         bool      `json:"active"`
	Cancelled      bool      `json:"cancelled"`
	WindowNotified bool      `json:"-"` // reconciler has announced window elapse
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Participant is one row of the append-only participant list, carrying the
// cumulative deposit spent by a supporter on a campaign.
type Participant struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	SupporterID uuid.UUID `json:"supporter_id"`
	Spent       int64     `json:"spent"`
	JoinedAt    time.Time `json:"joined_at"`
}

// AdminCap is the capability object gating creator-only operations. It is
// checked by equality of its bound campaign id, never by ambient state.
type AdminCap struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Check reports whether the capability is bound to the given campaign.
func (c *AdminCap) Check(campaignID uuid.UUID) bool {
	return c != nil && c.CampaignID == campaignID
}

// DeployRecord is the thin registry/treasury bookkeeping row created when a
// campaign name is registered.
type DeployRecord struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Name       string    `json:"name"`
	FeeAmount  int64     `json:"fee_amount"`
	FeeSettled bool      `json:"fee_settled"`
	CreatedAt  time.Time `json:"created_at"`
}

// MintResult reports the outcome of one mint against the ledger.
type MintResult struct {
	Amount       int64 // shares minted into the new token
	Consumed     int64 // deposit actually charged
	ProjectShare int64 // portion added to the pooled balance
	TokenShare   int64 // portion minted as the token's own balance
	Activated    bool  // this mint crossed the activation threshold
}

// BurnResult reports the outcome of burning one token.
type BurnResult struct {
	PoolShare      int64 // withdrawn from the pooled balance
	OwnBalance     int64 // the token's directly held balance
	Payout         int64 // PoolShare + OwnBalance
	SpendReduction int64 // amount to subtract from the burner's participant spend
}

// Validate checks the construction parameters of a new campaign.
func (c *Campaign) Validate() error {
	if c.EndTime <= c.StartTime {
		return ErrInvalidWindow
	}
	if c.EndTime-c.StartTime < MinVestingWindowMillis {
		return ErrWindowTooShort
	}
	if c.Ratio < 0 || c.Ratio > 100 {
		return ErrInvalidRatio
	}
	if c.ThresholdRatio < 0 || c.ThresholdRatio > 100 {
		return ErrInvalidThreshold
	}
	if c.AmountPerUnit < 1 || c.AmountPerUnit > UnitBase {
		return ErrInvalidUnitPrice
	}
	if c.TotalSupply <= 0 {
		return ErrInvalidSupply
	}
	if c.MinValue < 0 || c.MaxValue < 0 || (c.MaxValue > 0 && c.MaxValue < c.MinValue) {
		return ErrInvalidBounds
	}
	return nil
}

// supplyValue converts a share count back into deposit value units.
func (c *Campaign) supplyValue(shares int64) int64 {
	return mulDiv(shares, UnitBase, c.AmountPerUnit)
}

// ApplyMint consumes up to deposit minor units from a supporter who has
// already spent alreadySpent on this campaign, mutating the supply counters
// and the pooled balance. The caller mints a token from the returned result
// and credits the supporter's participant spend by Consumed. Any unconsumed
// remainder of the deposit stays with the supporter.
func (c *Campaign) ApplyMint(alreadySpent, deposit, now int64) (*MintResult, error) {
	if c.Version != LedgerVersion {
		return nil, ErrVersionMismatch
	}
	if c.Cancelled {
		return nil, ErrCampaignCancelled
	}
	if now < c.StartTime {
		return nil, ErrMintNotStarted
	}
	if c.Remain <= 0 {
		return nil, ErrSoldOut
	}
	if deposit <= 0 || deposit < c.MinValue {
		return nil, ErrDepositBelowMinimum
	}

	// Clamp against the supporter's remaining headroom. Being already at the
	// cap is reported distinctly from a generic rejection.
	consumed := deposit
	if c.MaxValue > 0 {
		headroom := c.MaxValue - alreadySpent
		if headroom <= 0 {
			return nil, ErrParticipantCapReached
		}
		if consumed > headroom {
			consumed = headroom
		}
	}

	amount := mulDiv(consumed, c.AmountPerUnit, UnitBase)
	if amount <= 0 {
		return nil, ErrDepositBelowMinimum
	}

	// Clamp to the remaining supply; recompute the charge from the clamped
	// share count, rounding up, so the supporter is never charged for shares
	// that do not exist and never receives shares that were not paid for.
	if amount > c.Remain {
		amount = c.Remain
		consumed = mulDivCeil(amount, UnitBase, c.AmountPerUnit)
	}

	projectShare := mulDiv(consumed, c.Ratio, 100)
	tokenShare := consumed - projectShare

	c.Remain -= amount
	c.CurrentSupply += amount
	c.TxCount++
	c.PooledBalance += projectShare

	activated := false
	if !c.Active && c.CurrentSupply*100 >= c.ThresholdRatio*c.TotalSupply {
		c.Active = true
		activated = true
	}

	return &MintResult{
		Amount:       amount,
		Consumed:     consumed,
		ProjectShare: projectShare,
		TokenShare:   tokenShare,
		Activated:    activated,
	}, nil
}

// ClaimableAt returns how much of the pool the creator may withdraw at now:
// everything above the still-locked portion of the current supply's pool
// contribution. Never negative.
func (c *Campaign) ClaimableAt(now int64) int64 {
	initialLocked := mulDiv(c.supplyValue(c.CurrentSupply), c.Ratio, 100)
	stillLocked := RemainingLocked(initialLocked, c.StartTime, c.EndTime, now)
	claimable := c.PooledBalance - stillLocked
	if claimable < 0 {
		return 0
	}
	return claimable
}

// ApplyClaim performs the creator's streaming withdrawal, draining exactly
// the vested portion of the pool.
func (c *Campaign) ApplyClaim(now int64) (int64, error) {
	if c.Version != LedgerVersion {
		return 0, ErrVersionMismatch
	}
	if c.Cancelled {
		return 0, ErrCampaignCancelled
	}
	if !c.Active {
		return 0, ErrCampaignNotActive
	}
	claimable := c.ClaimableAt(now)
	c.PooledBalance -= claimable
	c.TotalClaimed += claimable
	return claimable, nil
}

// BurnBasisAt returns the portion of the pool that has not been legitimately
// streamed to the creator at now. On a cancelled or never-activated campaign
// that is the whole pool; otherwise it is the still-locked share of the
// current supply, computed over the token's copied vesting window.
func (c *Campaign) BurnBasisAt(t *RewardToken, now int64) int64 {
	if c.Cancelled || !c.Active {
		return c.PooledBalance
	}
	still := RemainingLocked(c.supplyValue(c.CurrentSupply), t.Start, t.End, now)
	return mulDiv(still, c.Ratio, 100)
}

// ApplyBurn redeems the token against the ledger: a proportional share of the
// not-yet-streamed pool plus the token's own balance. The caller destroys the
// token, reduces the burner's participant spend by SpendReduction (floored at
// zero), and pays out Payout.
func (c *Campaign) ApplyBurn(t *RewardToken, now int64) (*BurnResult, error) {
	if c.Version != LedgerVersion {
		return nil, ErrVersionMismatch
	}
	if t.CampaignID != c.ID {
		return nil, ErrCampaignMismatch
	}
	if t.Delegated() {
		return nil, ErrTokenDelegated
	}

	basis := c.BurnBasisAt(t, now)
	withdraw := mulDiv(basis, t.Amount, c.CurrentSupply)
	if withdraw > c.PooledBalance {
		withdraw = c.PooledBalance
	}

	c.CurrentSupply -= t.Amount
	c.Remain += t.Amount
	c.PooledBalance -= withdraw
	c.TxCount++

	return &BurnResult{
		PoolShare:      withdraw,
		OwnBalance:     t.OwnBalance,
		Payout:         withdraw + t.OwnBalance,
		SpendReduction: c.supplyValue(t.Amount),
	}, nil
}

// Cancel marks the campaign cancelled. One-way; allowed before or after
// activation. After cancellation the vesting schedule is bypassed and every
// live token redeems against the full pool.
func (c *Campaign) Cancel() error {
	if c.Version != LedgerVersion {
		return ErrVersionMismatch
	}
	if c.Cancelled {
		return ErrCampaignCancelled
	}
	c.Cancelled = true
	return nil
}

// Sweep drains whatever is left in the pool of a cancelled campaign once
// every token has been burned. By conservation the remainder is rounding dust,
// but it is withdrawn explicitly rather than stranded.
func (c *Campaign) Sweep() (int64, error) {
	if !c.Cancelled {
		return 0, ErrNotCancelled
	}
	if c.CurrentSupply != 0 {
		return 0, ErrSupplyOutstanding
	}
	dust := c.PooledBalance
	c.PooledBalance = 0
	return dust, nil
}
