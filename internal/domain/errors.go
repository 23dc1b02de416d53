/**
 * @description
 * This file defines the sentinel errors for the campaign ledger. Every failure
 * mode is a distinct error value so that callers (the application service and
 * the HTTP layer) can branch with errors.Is and map each one to a precise
 * response. All of these are rejected before any state mutation; a failed
 * operation never commits partial state.
 */

package domain

import "errors"

// Precondition violations: recoverable by retrying with corrected input.
var (
	ErrInvalidWindow       = errors.New("vesting window end must be after start")
	ErrWindowTooShort      = errors.New("vesting window is shorter than the minimum")
	ErrInvalidRatio        = errors.New("pool ratio must be between 0 and 100")
	ErrInvalidThreshold    = errors.New("threshold ratio must be between 0 and 100")
	ErrInvalidUnitPrice    = errors.New("amount per unit must be between 1 and the unit base")
	ErrInvalidSupply       = errors.New("total supply must be positive")
	ErrInvalidBounds       = errors.New("per-participant bounds are inconsistent")
	ErrDepositBelowMinimum = errors.New("deposit is below the campaign minimum")
	ErrVersionMismatch     = errors.New("campaign ledger version mismatch")
)

// Capacity exhausted: the campaign cannot absorb the request.
var (
	ErrSoldOut               = errors.New("no shares remain to mint")
	ErrParticipantCapReached = errors.New("participant deposit cap already reached")
)

// Identity mismatches: the caller paired the wrong objects.
var (
	ErrCampaignMismatch   = errors.New("token does not belong to this campaign")
	ErrCapabilityMismatch = errors.New("capability is not bound to this campaign")
	ErrNotTokenOwner      = errors.New("caller does not own this token")
)

// State conflicts: the entity is in a state that forbids the operation.
var (
	ErrCampaignCancelled  = errors.New("campaign is cancelled")
	ErrCampaignNotActive  = errors.New("campaign has not activated")
	ErrMintNotStarted     = errors.New("campaign minting has not started")
	ErrTokenDelegated     = errors.New("token balance is delegated to a yield source")
	ErrNotDelegated       = errors.New("token has no active delegation")
	ErrDelegationMismatch = errors.New("no delegation receipt for that yield source")
	ErrNothingToDelegate  = errors.New("token has no balance to delegate")
	ErrNotCancelled       = errors.New("campaign is not cancelled")
	ErrSupplyOutstanding  = errors.New("live tokens still exist for this campaign")
)

// Arithmetic and ordering violations.
var (
	ErrInvalidSplitAmount = errors.New("split amount must be positive and less than the token amount")
	ErrSelfMerge          = errors.New("cannot merge a token into itself")
)
