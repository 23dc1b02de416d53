/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the launchpad service needs. The ledger arithmetic itself lives in
 * internal/domain; the repository's job is to run those state transitions
 * under row-level serialization so that no two mutating operations on the
 * same campaign or token ever interleave, and to persist the outcome
 * atomically. Every *Atomic method either commits the full effect or leaves
 * state untouched.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the ledger domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/fundstream/launchpad-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Registry and campaign reads
	CreateCampaign(ctx context.Context, c *domain.Campaign, cap *domain.AdminCap, rec *domain.DeployRecord) error
	GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	GetAdminCap(ctx context.Context, capID uuid.UUID) (*domain.AdminCap, error)
	GetDeployRecord(ctx context.Context, campaignID uuid.UUID) (*domain.DeployRecord, error)
	ListParticipants(ctx context.Context, campaignID uuid.UUID) ([]domain.Participant, error)
	GetToken(ctx context.Context, tokenID uuid.UUID) (*domain.RewardToken, error)

	// Ledger mutations, serialized per campaign/token row
	MintAtomic(ctx context.Context, campaignID, supporterID, tokenID uuid.UUID, deposit, now int64) (*domain.RewardToken, *domain.MintResult, error)
	ClaimAtomic(ctx context.Context, campaignID uuid.UUID, now int64) (int64, error)
	BurnAtomic(ctx context.Context, tokenID, ownerID uuid.UUID, now int64) (*domain.BurnResult, error)
	CancelAtomic(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	SweepAtomic(ctx context.Context, campaignID uuid.UUID) (int64, error)

	// Token mutations
	SplitAtomic(ctx context.Context, tokenID, ownerID, newTokenID uuid.UUID, splitAmount int64) (*domain.RewardToken, error)
	MergeAtomic(ctx context.Context, targetID, sourceID, ownerID uuid.UUID) (*domain.RewardToken, error)
	TransferToken(ctx context.Context, tokenID, ownerID, newOwnerID uuid.UUID) error
	SetDelegation(ctx context.Context, tokenID uuid.UUID, kind domain.DelegationKind, receipt string, moved int64) error
	ClearDelegation(ctx context.Context, tokenID uuid.UUID, kind domain.DelegationKind, returned int64) error

	// Registry/treasury bookkeeping
	MarkDeployFeeSettled(ctx context.Context, campaignID uuid.UUID) error
	DeregisterName(ctx context.Context, campaignID uuid.UUID) error

	// Reconciliation
	ListWindowElapsed(ctx context.Context, now int64, limit int) ([]domain.Campaign, error)
	MarkWindowNotified(ctx context.Context, campaignID uuid.UUID) error
}
