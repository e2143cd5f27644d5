package repository

import (
	"context"
	"errors"

	"crowdprop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type ReferralRepository struct {
	db *pgxpool.Pool
}

func NewReferralRepository(db *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{db: db}
}

const referralColumns = `id, referrer_id, referee_id, status, referee_investment_amount,
	referrer_reward, referee_reward, currency, referee_approved_at, qualified_at, rewarded_at, created_at`

func scanReferral(row pgx.Row) (*domain.Referral, error) {
	var ref domain.Referral
	err := row.Scan(&ref.ID, &ref.ReferrerID, &ref.RefereeID, &ref.Status, &ref.RefereeInvestmentAmount,
		&ref.ReferrerReward, &ref.RefereeReward, &ref.Currency, &ref.RefereeApprovedAt,
		&ref.QualifiedAt, &ref.RewardedAt, &ref.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// Create inserts a new pending referral. The unique (referrer_id,
// referee_id) constraint turns a racing duplicate into ErrDuplicateReferral.
func (r *ReferralRepository) Create(ctx context.Context, ref *domain.Referral) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO referrals (referrer_id, referee_id, status, referrer_reward, referee_reward, currency)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		RETURNING id, referee_investment_amount, created_at
	`, ref.ReferrerID, ref.RefereeID, ref.ReferrerReward, ref.RefereeReward, ref.Currency).
		Scan(&ref.ID, &ref.RefereeInvestmentAmount, &ref.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReferral
		}
		return storageErr("create referral", err)
	}
	ref.Status = domain.ReferralPending
	return nil
}

// GetByID retrieves a referral.
func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*domain.Referral, error) {
	ref, err := scanReferral(r.db.QueryRow(ctx, `
		SELECT `+referralColumns+` FROM referrals WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, storageErr("get referral", err)
	}
	return ref, nil
}

// GetByReferee returns the referral in which the user is the referee.
func (r *ReferralRepository) GetByReferee(ctx context.Context, refereeID int64) (*domain.Referral, error) {
	ref, err := scanReferral(r.db.QueryRow(ctx, `
		SELECT `+referralColumns+` FROM referrals WHERE referee_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, refereeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, storageErr("get referral by referee", err)
	}
	return ref, nil
}

// AddInvestment increments the referee's running investment total and
// returns the updated row. The increment is a single atomic statement, so
// concurrent investment events never lose updates.
func (r *ReferralRepository) AddInvestment(ctx context.Context, id int64, amount decimal.Decimal) (*domain.Referral, error) {
	ref, err := scanReferral(r.db.QueryRow(ctx, `
		UPDATE referrals
		SET referee_investment_amount = referee_investment_amount + $2
		WHERE id = $1
		RETURNING `+referralColumns+`
	`, id, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, storageErr("add referral investment", err)
	}
	return ref, nil
}

// MarkRefereeApproved stamps the approval gate, once. A no-op when already
// stamped or when the referral progressed past pending.
func (r *ReferralRepository) MarkRefereeApproved(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE referrals SET referee_approved_at = NOW()
		WHERE id = $1 AND referee_approved_at IS NULL
	`, id)
	return storageErr("mark referee approved", err)
}

// TransitionStatus performs the compare-and-set on the status column:
// update only if the row is still in the expected state. Timestamps are
// stamped exactly once by the winning transition. A lost race surfaces
// ErrStaleReferralStatus so the caller can re-read and decide.
func (r *ReferralRepository) TransitionStatus(ctx context.Context, id int64, from, to domain.ReferralStatus) error {
	var column string
	switch to {
	case domain.ReferralQualified:
		column = "qualified_at"
	case domain.ReferralRewarded:
		column = "rewarded_at"
	default:
		return errors.New("invalid referral transition target")
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE referrals SET status = $3, `+column+` = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return storageErr("transition referral", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleReferralStatus
	}
	return nil
}

// StatsByReferrer aggregates a user's referral activity. Earned totals count
// only rewarded referrals.
func (r *ReferralRepository) StatsByReferrer(ctx context.Context, referrerID int64) (domain.ReferralStats, error) {
	var stats domain.ReferralStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('qualified', 'rewarded')),
		       COALESCE(SUM(referrer_reward) FILTER (WHERE status = 'rewarded'), 0)
		FROM referrals
		WHERE referrer_id = $1
	`, referrerID).Scan(&stats.TotalReferred, &stats.TotalInvested, &stats.TotalEarned)
	if err != nil {
		return domain.ReferralStats{}, storageErr("referral stats", err)
	}
	return stats, nil
}

// ListByReferrer returns all referrals made by a user, newest first.
func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID int64) ([]*domain.Referral, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+referralColumns+` FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at DESC
	`, referrerID)
	if err != nil {
		return nil, storageErr("list referrals", err)
	}
	defer rows.Close()

	var result []*domain.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, storageErr("scan referral", err)
		}
		result = append(result, ref)
	}
	return result, storageErr("list referrals", rows.Err())
}
