package service

import (
	"context"
	"errors"
	"fmt"

	"crowdprop/internal/currency"
	"crowdprop/internal/domain"
	"crowdprop/internal/logger"
	"crowdprop/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrSelfReferral        = errors.New("user cannot refer themselves")
	ErrInvalidReferralCode = errors.New("invalid referral code")

	// ErrReferralTransitionConflict is surfaced after the bounded internal
	// retries on the status compare-and-set are exhausted while the row is
	// still observed in the expected state.
	ErrReferralTransitionConflict = errors.New("referral transition conflict")
)

// How many times a lost compare-and-set on the referral status is retried
// before surfacing ErrReferralTransitionConflict.
const transitionRetries = 3

// ReferralService owns the referral lifecycle: registration at referee
// signup, the approval gate, and qualification driven by cumulative
// investment volume. Rewards are issued through the WalletService, guarded
// by per-referral idempotency keys, so a race between concurrent investment
// events credits each party exactly once.
type ReferralService struct {
	users     UserDirectory
	referrals ReferralStore
	wallet    *WalletService
	rewards   domain.RewardTable
}

// NewReferralService wires the pgx-backed stores.
func NewReferralService(db *pgxpool.Pool, wallet *WalletService, rewards domain.RewardTable) *ReferralService {
	return newReferralService(repository.NewUserRepository(db), repository.NewReferralRepository(db), wallet, rewards)
}

func newReferralService(users UserDirectory, referrals ReferralStore, wallet *WalletService, rewards domain.RewardTable) *ReferralService {
	if rewards == nil {
		rewards = domain.DefaultRewardTable()
	}
	return &ReferralService{users: users, referrals: referrals, wallet: wallet, rewards: rewards}
}

// RegisterReferral creates a pending referral at referee signup from a
// referral code. Reward amounts are frozen on the row at creation time in
// the referrer's currency.
func (s *ReferralService) RegisterReferral(ctx context.Context, code string, refereeID int64) (*domain.Referral, error) {
	referrer, err := s.users.ResolveReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, err
	}
	if referrer.ID == refereeID {
		return nil, ErrSelfReferral
	}
	if _, err := s.users.GetByID(ctx, refereeID); err != nil {
		return nil, err
	}

	tier, ok := s.rewards[referrer.Currency]
	if !ok {
		return nil, currency.ErrUnsupportedCurrency
	}

	ref := &domain.Referral{
		ReferrerID:     referrer.ID,
		RefereeID:      refereeID,
		Currency:       referrer.Currency,
		ReferrerReward: tier.ReferrerReward,
		RefereeReward:  tier.RefereeReward,
	}
	if err := s.referrals.Create(ctx, ref); err != nil {
		return nil, err
	}

	if err := s.users.SetReferredBy(ctx, refereeID, referrer.ID); err != nil {
		logger.Error("failed to back-reference referrer", "referee_id", refereeID, "error", err)
	}
	return ref, nil
}

// OnRefereeApproved marks the referee-side approval gate satisfied. It does
// not advance the lifecycle: qualification is driven by investment volume.
func (s *ReferralService) OnRefereeApproved(ctx context.Context, refereeID int64) error {
	if err := s.users.MarkApproved(ctx, refereeID); err != nil {
		return err
	}

	ref, err := s.referrals.GetByReferee(ctx, refereeID)
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			return nil
		}
		return err
	}
	if ref.Status != domain.ReferralPending {
		return nil
	}
	return s.referrals.MarkRefereeApproved(ctx, ref.ID)
}

// OnInvestmentRecorded accumulates the referee's investment volume on the
// referral and, when the running total crosses the currency threshold while
// the referral is still pending, drives the pending -> qualified ->
// rewarded transition and credits both parties. Concurrent calls race
// freely on the status compare-and-set; exactly one wins, issues the
// rewards and reports true. Calls after qualification only keep the
// running total for audit.
func (s *ReferralService) OnInvestmentRecorded(ctx context.Context, refereeID int64, amount decimal.Decimal, cur domain.Currency) (bool, error) {
	if amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	if !currency.Supported(cur) {
		return false, currency.ErrUnsupportedCurrency
	}

	ref, err := s.referrals.GetByReferee(ctx, refereeID)
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			return false, nil
		}
		return false, err
	}

	converted, err := currency.Convert(amount, cur, ref.Currency)
	if err != nil {
		return false, err
	}

	updated, err := s.referrals.AddInvestment(ctx, ref.ID, converted)
	if err != nil {
		return false, err
	}

	status := updated.Status
	if status == domain.ReferralPending {
		tier, ok := s.rewards[updated.Currency]
		if !ok {
			return false, currency.ErrUnsupportedCurrency
		}
		if updated.RefereeInvestmentAmount.LessThan(tier.MinInvestment) {
			return false, nil
		}

		status, err = s.claimQualification(ctx, updated.ID)
		if err != nil {
			return false, err
		}
		if status == domain.ReferralQualified {
			logger.Info("referral qualified",
				"referral_id", updated.ID,
				"referee_id", refereeID,
				"total_invested", updated.RefereeInvestmentAmount.String(),
			)
		}
	}
	if status != domain.ReferralQualified {
		return false, nil
	}

	// Qualified but not yet rewarded: either this caller just won the
	// transition, or a previous issuer died between qualification and the
	// payout. The per-referral idempotency keys make finishing the payout
	// safe in both cases.
	return s.issueRewards(ctx, updated)
}

// claimQualification performs the bounded-retry compare-and-set on pending
// -> qualified and reports the row's status afterwards. A lost race returns
// the status the winning caller left behind.
func (s *ReferralService) claimQualification(ctx context.Context, referralID int64) (domain.ReferralStatus, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		err := s.referrals.TransitionStatus(ctx, referralID, domain.ReferralPending, domain.ReferralQualified)
		if err == nil {
			return domain.ReferralQualified, nil
		}
		if !errors.Is(err, repository.ErrStaleReferralStatus) {
			return "", err
		}

		current, getErr := s.referrals.GetByID(ctx, referralID)
		if getErr != nil {
			return "", getErr
		}
		if current.Status != domain.ReferralPending {
			return current.Status, nil
		}
	}
	return "", ErrReferralTransitionConflict
}

// issueRewards credits both parties and seals the lifecycle. The credits
// are idempotent per referral, so a payout interrupted after qualification
// can be re-run without double-paying. Reports true only for the caller
// that performs the qualified -> rewarded transition.
func (s *ReferralService) issueRewards(ctx context.Context, ref *domain.Referral) (bool, error) {
	reference := fmt.Sprintf("REF_%d", ref.ID)

	if _, err := s.wallet.CreditReward(ctx, ref.ReferrerID, ref.ReferrerReward, ref.Currency,
		domain.TxReferralBonus, reference, fmt.Sprintf("referral:%d:referrer", ref.ID)); err != nil {
		return false, err
	}
	if _, err := s.wallet.CreditReward(ctx, ref.RefereeID, ref.RefereeReward, ref.Currency,
		domain.TxReferralBonus, reference, fmt.Sprintf("referral:%d:referee", ref.ID)); err != nil {
		return false, err
	}

	err := s.referrals.TransitionStatus(ctx, ref.ID, domain.ReferralQualified, domain.ReferralRewarded)
	if err != nil {
		if errors.Is(err, repository.ErrStaleReferralStatus) {
			current, getErr := s.referrals.GetByID(ctx, ref.ID)
			if getErr == nil && current.Status == domain.ReferralRewarded {
				return false, nil
			}
		}
		return false, err
	}

	logger.Info("referral rewarded",
		"referral_id", ref.ID,
		"referrer_id", ref.ReferrerID,
		"referee_id", ref.RefereeID,
		"currency", ref.Currency,
	)
	return true, nil
}

// GetReferralInfo returns the user's permanent code (issued lazily, once),
// the reward constants for their currency, and their referral stats.
func (s *ReferralService) GetReferralInfo(ctx context.Context, userID int64) (*domain.ReferralInfo, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	code, err := s.users.GetOrCreateReferralCode(ctx, userID)
	if err != nil {
		return nil, err
	}

	tier, ok := s.rewards[user.Currency]
	if !ok {
		return nil, currency.ErrUnsupportedCurrency
	}

	stats, err := s.referrals.StatsByReferrer(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.ReferralInfo{
		UserID:         user.ID,
		Code:           code,
		Currency:       user.Currency,
		ReferralAmount: tier.ReferrerReward,
		MinInvestment:  tier.MinInvestment,
		Stats:          stats,
	}, nil
}

// SwitchCurrency updates the user's currency preference. Existing referral
// rows keep the currency they were created with.
func (s *ReferralService) SwitchCurrency(ctx context.Context, userID int64, cur domain.Currency) (*domain.ReferralInfo, error) {
	tier, ok := s.rewards[cur]
	if !ok {
		return nil, currency.ErrUnsupportedCurrency
	}
	if err := s.users.UpdateCurrency(ctx, userID, cur); err != nil {
		return nil, err
	}

	stats, err := s.referrals.StatsByReferrer(ctx, userID)
	if err != nil {
		return nil, err
	}
	code, err := s.users.GetOrCreateReferralCode(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.ReferralInfo{
		UserID:         userID,
		Code:           code,
		Currency:       cur,
		ReferralAmount: tier.ReferrerReward,
		MinInvestment:  tier.MinInvestment,
		Stats:          stats,
	}, nil
}

// ListReferrals returns the referrals a user has made, newest first.
func (s *ReferralService) ListReferrals(ctx context.Context, userID int64) ([]*domain.Referral, error) {
	return s.referrals.ListByReferrer(ctx, userID)
}
