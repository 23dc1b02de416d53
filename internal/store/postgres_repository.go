/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Each mutating
 * operation runs inside a transaction that locks the affected campaign and
 * token rows with SELECT ... FOR UPDATE, runs the domain state transition on
 * the scanned record, and writes the result back. That gives every ledger
 * instance the one-at-a-time mutation discipline the arithmetic assumes.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the ledger models and state transitions.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fundstream/launchpad-service/internal/domain"
)

var (
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrTokenNotFound        = errors.New("reward token not found")
	ErrCapabilityNotFound   = errors.New("admin capability not found")
	ErrDeployRecordNotFound = errors.New("deploy record not found")
	ErrNameTaken            = errors.New("campaign name already registered")
	ErrDelegationConflict   = errors.New("token delegation state changed concurrently")
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const campaignColumns = `id, creator_id, name, version, start_time, end_time, ratio, threshold_ratio,
	amount_per_unit, total_supply, remain, current_supply, pooled_balance, total_claimed,
	min_value, max_value, tx_count, active, cancelled, window_notified, created_at, updated_at`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID, &c.CreatorID, &c.Name, &c.Version, &c.StartTime, &c.EndTime, &c.Ratio, &c.ThresholdRatio,
		&c.AmountPerUnit, &c.TotalSupply, &c.Remain, &c.CurrentSupply, &c.PooledBalance, &c.TotalClaimed,
		&c.MinValue, &c.MaxValue, &c.TxCount, &c.Active, &c.Cancelled, &c.WindowNotified, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

const tokenColumns = `id, campaign_id, owner_id, amount, own_balance, start_time, end_time,
	delegation_kind, delegation_receipt, created_at, updated_at`

func scanToken(row pgx.Row) (*domain.RewardToken, error) {
	var t domain.RewardToken
	err := row.Scan(
		&t.ID, &t.CampaignID, &t.OwnerID, &t.Amount, &t.OwnBalance, &t.Start, &t.End,
		&t.DelegationKind, &t.DelegationReceipt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateCampaign persists a new campaign ledger, its admin capability and its
// registry deploy record in one transaction. A duplicate name surfaces as
// ErrNameTaken.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *domain.Campaign, cap *domain.AdminCap, rec *domain.DeployRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create campaign tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (id, creator_id, name, version, start_time, end_time, ratio, threshold_ratio,
			amount_per_unit, total_supply, remain, current_supply, pooled_balance, total_claimed,
			min_value, max_value, tx_count, active, cancelled, window_notified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, 0, $12, $13, 0, FALSE, FALSE, FALSE, NOW(), NOW())`,
		c.ID, c.CreatorID, c.Name, c.Version, c.StartTime, c.EndTime, c.Ratio, c.ThresholdRatio,
		c.AmountPerUnit, c.TotalSupply, c.Remain, c.MinValue, c.MaxValue,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrNameTaken
		}
		return fmt.Errorf("insert campaign: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO admin_caps (id, campaign_id, created_at) VALUES ($1, $2, NOW())`,
		cap.ID, cap.CampaignID,
	); err != nil {
		return fmt.Errorf("insert admin cap: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO deploy_records (campaign_id, name, fee_amount, fee_settled, created_at)
		 VALUES ($1, $2, $3, FALSE, NOW())`,
		rec.CampaignID, rec.Name, rec.FeeAmount,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrNameTaken
		}
		return fmt.Errorf("insert deploy record: %w", err)
	}

	return tx.Commit(ctx)
}

// GetCampaign retrieves a campaign ledger by id.
func (r *PostgresRepository) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.QueryRow(ctx, query, campaignID))
}

// GetAdminCap retrieves an admin capability by id.
func (r *PostgresRepository) GetAdminCap(ctx context.Context, capID uuid.UUID) (*domain.AdminCap, error) {
	var cap domain.AdminCap
	err := r.db.QueryRow(ctx,
		`SELECT id, campaign_id, created_at FROM admin_caps WHERE id = $1`, capID,
	).Scan(&cap.ID, &cap.CampaignID, &cap.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCapabilityNotFound
		}
		return nil, err
	}
	return &cap, nil
}

// GetDeployRecord retrieves the registry bookkeeping row for a campaign.
func (r *PostgresRepository) GetDeployRecord(ctx context.Context, campaignID uuid.UUID) (*domain.DeployRecord, error) {
	var rec domain.DeployRecord
	err := r.db.QueryRow(ctx,
		`SELECT campaign_id, name, fee_amount, fee_settled, created_at FROM deploy_records WHERE campaign_id = $1`,
		campaignID,
	).Scan(&rec.CampaignID, &rec.Name, &rec.FeeAmount, &rec.FeeSettled, &rec.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDeployRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListParticipants returns the append-only participant list of a campaign.
func (r *PostgresRepository) ListParticipants(ctx context.Context, campaignID uuid.UUID) ([]domain.Participant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT campaign_id, supporter_id, spent, joined_at FROM participants
		 WHERE campaign_id = $1 ORDER BY joined_at ASC`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.CampaignID, &p.SupporterID, &p.Spent, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// GetToken retrieves a reward token by id.
func (r *PostgresRepository) GetToken(ctx context.Context, tokenID uuid.UUID) (*domain.RewardToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM reward_tokens WHERE id = $1`
	return scanToken(r.db.QueryRow(ctx, query, tokenID))
}

func (r *PostgresRepository) lockCampaign(ctx context.Context, tx pgx.Tx, campaignID uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 FOR UPDATE`
	return scanCampaign(tx.QueryRow(ctx, query, campaignID))
}

func (r *PostgresRepository) lockToken(ctx context.Context, tx pgx.Tx, tokenID uuid.UUID) (*domain.RewardToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM reward_tokens WHERE id = $1 FOR UPDATE`
	return scanToken(tx.QueryRow(ctx, query, tokenID))
}

func (r *PostgresRepository) updateCampaign(ctx context.Context, tx pgx.Tx, c *domain.Campaign) error {
	_, err := tx.Exec(ctx, `
		UPDATE campaigns SET remain = $2, current_supply = $3, pooled_balance = $4, total_claimed = $5,
			tx_count = $6, active = $7, cancelled = $8, window_notified = $9, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Remain, c.CurrentSupply, c.PooledBalance, c.TotalClaimed,
		c.TxCount, c.Active, c.Cancelled, c.WindowNotified,
	)
	return err
}

// MintAtomic charges the supporter's deposit against the campaign and mints a
// new reward token, all under the campaign row lock.
func (r *PostgresRepository) MintAtomic(ctx context.Context, campaignID, supporterID, tokenID uuid.UUID, deposit, now int64) (*domain.RewardToken, *domain.MintResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin mint tx: %w", err)
	}
	defer tx.Rollback(ctx)

	campaign, err := r.lockCampaign(ctx, tx, campaignID)
	if err != nil {
		return nil, nil, err
	}

	var spent int64
	err = tx.QueryRow(ctx,
		`SELECT spent FROM participants WHERE campaign_id = $1 AND supporter_id = $2 FOR UPDATE`,
		campaignID, supporterID,
	).Scan(&spent)
	if err != nil && err != pgx.ErrNoRows {
		return nil, nil, err
	}

	result, err := campaign.ApplyMint(spent, deposit, now)
	if err != nil {
		return nil, nil, err
	}

	token := &domain.RewardToken{
		ID:         tokenID,
		CampaignID: campaign.ID,
		OwnerID:    supporterID,
		Amount:     result.Amount,
		OwnBalance: result.TokenShare,
		Start:      campaign.StartTime,
		End:        campaign.EndTime,
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reward_tokens (id, campaign_id, owner_id, amount, own_balance, start_time, end_time,
			delegation_kind, delegation_receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', NOW(), NOW())`,
		token.ID, token.CampaignID, token.OwnerID, token.Amount, token.OwnBalance, token.Start, token.End,
	); err != nil {
		return nil, nil, fmt.Errorf("insert reward token: %w", err)
	}

	if err := r.updateCampaign(ctx, tx, campaign); err != nil {
		return nil, nil, fmt.Errorf("update campaign counters: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO participants (campaign_id, supporter_id, spent, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (campaign_id, supporter_id) DO UPDATE SET spent = participants.spent + $3`,
		campaignID, supporterID, result.Consumed,
	); err != nil {
		return nil, nil, fmt.Errorf("upsert participant spend: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return token, result, nil
}

// ClaimAtomic drains the vested portion of the pool under the campaign row lock.
func (r *PostgresRepository) ClaimAtomic(ctx context.Context, campaignID uuid.UUID, now int64) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	campaign, err := r.lockCampaign(ctx, tx, campaignID)
	if err != nil {
		return 0, err
	}

	claimed, err := campaign.ApplyClaim(now)
	if err != nil {
		return 0, err
	}

	if err := r.updateCampaign(ctx, tx, campaign); err != nil {
		return 0, fmt.Errorf("update campaign pool: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return claimed, nil
}

// BurnAtomic redeems and destroys a token under both row locks. The token row
// is locked first so the campaign lock ordering matches the mint path.
func (r *PostgresRepository) BurnAtomic(ctx context.Context, tokenID, ownerID uuid.UUID, now int64) (*domain.BurnResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin burn tx: %w", err)
	}
	defer tx.Rollback(ctx)

	token, err := r.lockToken(ctx, tx, tokenID)
	if err != nil {
		return nil, err
	}
	if token.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}

	campaign, err := r.lockCampaign(ctx, tx, token.CampaignID)
	if err != nil {
		return nil, err
	}

	result, err := campaign.ApplyBurn(token, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reward_tokens WHERE id = $1`, tokenID); err != nil {
		return nil, fmt.Errorf("delete burned token: %w", err)
	}
	if err := r.updateCampaign(ctx, tx, campaign); err != nil {
		return nil, fmt.Errorf("update campaign counters: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE participants SET spent = GREATEST(spent - $3, 0)
		WHERE campaign_id = $1 AND supporter_id = $2`,
		campaign.ID, ownerID, result.SpendReduction,
	); err != nil {
		return nil, fmt.Errorf("reduce participant spend: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// CancelAtomic flips the one-way cancelled flag and returns the updated ledger.
func (r *PostgresRepository) CancelAtomic(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	campaign, err := r.lockCampaign(ctx, tx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := campaign.Cancel(); err != nil {
		return nil, err
	}
	if err := r.updateCampaign(ctx, tx, campaign); err != nil {
		return nil, fmt.Errorf("update campaign state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return campaign, nil
}

// SweepAtomic drains the rounding dust left in a cancelled, fully burned
// campaign's pool.
func (r *PostgresRepository) SweepAtomic(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	campaign, err := r.lockCampaign(ctx, tx, campaignID)
	if err != nil {
		return 0, err
	}
	dust, err := campaign.Sweep()
	if err != nil {
		return 0, err
	}
	if err := r.updateCampaign(ctx, tx, campaign); err != nil {
		return 0, fmt.Errorf("update campaign pool: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return dust, nil
}

// SplitAtomic carves a new token out of an existing one under the source row lock.
func (r *PostgresRepository) SplitAtomic(ctx context.Context, tokenID, ownerID, newTokenID uuid.UUID, splitAmount int64) (*domain.RewardToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin split tx: %w", err)
	}
	defer tx.Rollback(ctx)

	token, err := r.lockToken(ctx, tx, tokenID)
	if err != nil {
		return nil, err
	}
	if token.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}

	fresh, err := token.SplitOff(newTokenID, splitAmount)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE reward_tokens SET amount = $2, own_balance = $3, updated_at = NOW() WHERE id = $1`,
		token.ID, token.Amount, token.OwnBalance,
	); err != nil {
		return nil, fmt.Errorf("update split source: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reward_tokens (id, campaign_id, owner_id, amount, own_balance, start_time, end_time,
			delegation_kind, delegation_receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', NOW(), NOW())`,
		fresh.ID, fresh.CampaignID, fresh.OwnerID, fresh.Amount, fresh.OwnBalance, fresh.Start, fresh.End,
	); err != nil {
		return nil, fmt.Errorf("insert split token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return fresh, nil
}

// MergeAtomic folds the source token into the target and destroys the source.
// Rows are locked in id order so concurrent merges cannot deadlock.
func (r *PostgresRepository) MergeAtomic(ctx context.Context, targetID, sourceID, ownerID uuid.UUID) (*domain.RewardToken, error) {
	if targetID == sourceID {
		return nil, domain.ErrSelfMerge
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback(ctx)

	firstID, secondID := targetID, sourceID
	if secondID.String() < firstID.String() {
		firstID, secondID = secondID, firstID
	}
	first, err := r.lockToken(ctx, tx, firstID)
	if err != nil {
		return nil, err
	}
	second, err := r.lockToken(ctx, tx, secondID)
	if err != nil {
		return nil, err
	}

	target, source := first, second
	if target.ID != targetID {
		target, source = second, first
	}
	if target.OwnerID != ownerID || source.OwnerID != ownerID {
		return nil, domain.ErrNotTokenOwner
	}

	if err := target.MergeFrom(source); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE reward_tokens SET amount = $2, own_balance = $3, updated_at = NOW() WHERE id = $1`,
		target.ID, target.Amount, target.OwnBalance,
	); err != nil {
		return nil, fmt.Errorf("update merge target: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM reward_tokens WHERE id = $1`, source.ID); err != nil {
		return nil, fmt.Errorf("delete merge source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return target, nil
}

// TransferToken reassigns ownership of a token.
func (r *PostgresRepository) TransferToken(ctx context.Context, tokenID, ownerID, newOwnerID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reward_tokens SET owner_id = $3, updated_at = NOW() WHERE id = $1 AND owner_id = $2`,
		tokenID, ownerID, newOwnerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := r.GetToken(ctx, tokenID); lookupErr != nil {
			return lookupErr
		}
		return domain.ErrNotTokenOwner
	}
	return nil
}

// SetDelegation records a delegation receipt and zeroes the token's own
// balance. The update is conditional on the balance and free delegation slot
// observed by the caller, so a concurrent mutation surfaces as a conflict
// instead of silently double-committing the balance.
func (r *PostgresRepository) SetDelegation(ctx context.Context, tokenID uuid.UUID, kind domain.DelegationKind, receipt string, moved int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE reward_tokens SET delegation_kind = $2, delegation_receipt = $3, own_balance = 0, updated_at = NOW()
		WHERE id = $1 AND delegation_kind = '' AND own_balance = $4`,
		tokenID, string(kind), receipt, moved,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := r.GetToken(ctx, tokenID); lookupErr != nil {
			return lookupErr
		}
		return ErrDelegationConflict
	}
	return nil
}

// ClearDelegation merges the value returned by the yield source back into the
// token and frees the delegation slot.
func (r *PostgresRepository) ClearDelegation(ctx context.Context, tokenID uuid.UUID, kind domain.DelegationKind, returned int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE reward_tokens SET delegation_kind = '', delegation_receipt = '', own_balance = own_balance + $3, updated_at = NOW()
		WHERE id = $1 AND delegation_kind = $2`,
		tokenID, string(kind), returned,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := r.GetToken(ctx, tokenID); lookupErr != nil {
			return lookupErr
		}
		return ErrDelegationConflict
	}
	return nil
}

// MarkDeployFeeSettled flags the registry deploy fee as settled by the treasury.
func (r *PostgresRepository) MarkDeployFeeSettled(ctx context.Context, campaignID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE deploy_records SET fee_settled = TRUE WHERE campaign_id = $1`, campaignID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeployRecordNotFound
	}
	return nil
}

// DeregisterName releases a campaign name back to the registry.
func (r *PostgresRepository) DeregisterName(ctx context.Context, campaignID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM deploy_records WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeployRecordNotFound
	}
	return nil
}

// ListWindowElapsed returns active campaigns whose vesting window has fully
// elapsed and that have not yet been announced by the reconciler.
func (r *PostgresRepository) ListWindowElapsed(ctx context.Context, now int64, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE active AND NOT cancelled AND NOT window_notified AND end_time <= $1
		 ORDER BY end_time ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// MarkWindowNotified records that the reconciler announced a campaign's
// window elapse, so the event is published at most once.
func (r *PostgresRepository) MarkWindowNotified(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE campaigns SET window_notified = TRUE, updated_at = NOW() WHERE id = $1`, campaignID,
	)
	return err
}
