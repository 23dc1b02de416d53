/**
 * @description
 * The reward token: a transferable claim on a campaign bundling a share count
 * with a directly held unlocked balance, a copy of the campaign's vesting
 * window taken at mint time, and an exclusive delegation slot for committing
 * the unlocked balance to one external yield source at a time.
 *
 * Split and merge redistribute amount and own balance between token instances
 * without ever touching the campaign's pool or supply counters, so the sums
 * over all live tokens of a campaign are invariant across them.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DelegationKind tags which external yield source holds a token's balance.
type DelegationKind string

const (
	DelegationNone   DelegationKind = ""
	DelegationStake  DelegationKind = "stake"  // direct stake protocol
	DelegationMarket DelegationKind = "market" // liquid staking market
)

// RewardToken is a supporter's claim against one campaign.
type RewardToken struct {
	ID                uuid.UUID      `json:"id"`
	CampaignID        uuid.UUID      `json:"campaign_id"`
	OwnerID           uuid.UUID      `json:"owner_id"`
	Amount            int64          `json:"amount"`      // share count, > 0 while live
	OwnBalance        int64          `json:"own_balance"` // directly held, never time-gated
	Start             int64          `json:"start"`       // vesting window copied at mint/split
	End               int64          `json:"end"`
	DelegationKind    DelegationKind `json:"delegation_kind,omitempty"`
	DelegationReceipt string         `json:"-"` // opaque receipt from the yield source
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Delegated reports whether the token's balance is committed to a yield
// source. At most one delegation exists at a time.
func (t *RewardToken) Delegated() bool {
	return t.DelegationKind != DelegationNone
}

// SplitOff carves k shares out of the token into a new token with the given
// id. The new token's own balance is the proportional floor of the source
// balance, raised to 1 when the source balance is nonzero so a split never
// produces a zero-value fragment. Rounding therefore favors the split-off
// token; this is deliberate and matched by the merge path's tolerance.
func (t *RewardToken) SplitOff(newID uuid.UUID, k int64) (*RewardToken, error) {
	if t.Delegated() {
		return nil, ErrTokenDelegated
	}
	if k <= 0 || k >= t.Amount {
		return nil, ErrInvalidSplitAmount
	}

	newBalance := mulDiv(t.OwnBalance, k, t.Amount)
	if newBalance == 0 && t.OwnBalance > 0 {
		newBalance = 1
	}

	t.Amount -= k
	t.OwnBalance -= newBalance

	return &RewardToken{
		ID:         newID,
		CampaignID: t.CampaignID,
		OwnerID:    t.OwnerID,
		Amount:     k,
		OwnBalance: newBalance,
		Start:      t.Start,
		End:        t.End,
	}, nil
}

// MergeFrom folds other into the receiver. Both tokens must belong to the
// same campaign and neither may be delegated; other is destroyed by the
// caller afterwards.
func (t *RewardToken) MergeFrom(other *RewardToken) error {
	if other.ID == t.ID {
		return ErrSelfMerge
	}
	if other.CampaignID != t.CampaignID {
		return ErrCampaignMismatch
	}
	if t.Delegated() || other.Delegated() {
		return ErrTokenDelegated
	}
	t.Amount += other.Amount
	t.OwnBalance += other.OwnBalance
	return nil
}

// Delegate commits the token's entire own balance to the given yield source,
// recording the receipt returned by that source. Returns the moved value.
// Fails while any delegation, of either kind, is outstanding.
func (t *RewardToken) Delegate(kind DelegationKind, receipt string) (int64, error) {
	if kind != DelegationStake && kind != DelegationMarket {
		return 0, ErrDelegationMismatch
	}
	if t.Delegated() {
		return 0, ErrTokenDelegated
	}
	if t.OwnBalance <= 0 {
		return 0, ErrNothingToDelegate
	}
	moved := t.OwnBalance
	t.OwnBalance = 0
	t.DelegationKind = kind
	t.DelegationReceipt = receipt
	return moved, nil
}

// Recall merges value returned by the yield source back into the token's own
// balance and clears the delegation slot. The kind must match the stored
// receipt's source.
func (t *RewardToken) Recall(kind DelegationKind, returned int64) error {
	if !t.Delegated() {
		return ErrNotDelegated
	}
	if t.DelegationKind != kind {
		return ErrDelegationMismatch
	}
	t.OwnBalance += returned
	t.DelegationKind = DelegationNone
	t.DelegationReceipt = ""
	return nil
}
