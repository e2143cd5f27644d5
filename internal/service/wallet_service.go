package service

import (
	"context"
	"errors"
	"time"

	"crowdprop/internal/currency"
	"crowdprop/internal/domain"
	"crowdprop/internal/logger"
	"crowdprop/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidRewardType = errors.New("reward type must be reward or referral_bonus")

	// ErrRewardInFlight means another caller claimed the same idempotency
	// key and has not finished yet. Safe to retry.
	ErrRewardInFlight = errors.New("reward credit in flight")
)

// WalletService exposes the public balance operations. Every operation is
// an append + settle pair against the ledger: the transaction row is
// persisted pending first, then settled, so no balance ever reflects a
// pending entry.
type WalletService struct {
	wallets WalletStore
	ledger  LedgerStore
	guard   IdempotencyGuard

	// replay settings for reads of an idempotency key claimed by a
	// concurrent caller that has not bound its transaction yet
	replayAttempts int
	replayDelay    time.Duration
}

// NewWalletService wires the pgx-backed stores.
func NewWalletService(db *pgxpool.Pool) *WalletService {
	return newWalletService(
		repository.NewWalletRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewIdempotencyRepository(db),
	)
}

func newWalletService(wallets WalletStore, ledger LedgerStore, guard IdempotencyGuard) *WalletService {
	return &WalletService{
		wallets:        wallets,
		ledger:         ledger,
		guard:          guard,
		replayAttempts: 5,
		replayDelay:    20 * time.Millisecond,
	}
}

// Deposit credits the cash balance. The amount is converted to the wallet
// currency before settlement.
func (s *WalletService) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, cur domain.Currency, reference string) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applyCash(ctx, userID, amount, cur, domain.TxDeposit, reference)
}

// Withdraw debits the cash balance. Fails with ErrInsufficientFunds when
// the resulting balance would go negative; the check and the debit are one
// atomic unit inside the ledger settle.
func (s *WalletService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, cur domain.Currency, reference string) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applyCash(ctx, userID, amount.Neg(), cur, domain.TxWithdrawal, reference)
}

// RecordInvestmentDebit debits cash for an investment. Same semantics as
// Withdraw, tagged type=investment.
func (s *WalletService) RecordInvestmentDebit(ctx context.Context, userID int64, amount decimal.Decimal, cur domain.Currency, reference string) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applyCash(ctx, userID, amount.Neg(), cur, domain.TxInvestment, reference)
}

func (s *WalletService) applyCash(ctx context.Context, userID int64, signedAmount decimal.Decimal, cur domain.Currency, txType domain.TransactionType, reference string) (*domain.Transaction, error) {
	if signedAmount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if !currency.Supported(cur) {
		return nil, currency.ErrUnsupportedCurrency
	}

	wallet, err := s.wallets.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	amount, err := currency.Convert(signedAmount, cur, wallet.Currency)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	tx, err := s.ledger.Append(ctx, domain.TransactionDraft{
		UserID:      userID,
		WalletID:    wallet.ID,
		Type:        txType,
		Amount:      amount,
		Currency:    wallet.Currency,
		BalanceType: domain.BalanceCash,
		Reference:   reference,
	})
	if err != nil {
		return nil, err
	}

	if err := s.settle(ctx, tx.ID); err != nil {
		return nil, err
	}
	return s.ledger.GetByID(ctx, tx.ID)
}

// CreditReward credits the rewards balance. Idempotent: two calls with the
// same key produce exactly one completed transaction and one balance delta;
// the replayed call gets the original transaction back.
func (s *WalletService) CreditReward(ctx context.Context, userID int64, amount decimal.Decimal, cur domain.Currency, txType domain.TransactionType, reference, idempotencyKey string) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if txType != domain.TxReward && txType != domain.TxReferralBonus {
		return nil, ErrInvalidRewardType
	}
	if !currency.Supported(cur) {
		return nil, currency.ErrUnsupportedCurrency
	}

	claimed, err := s.guard.Claim(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.replay(ctx, idempotencyKey)
	}

	wallet, err := s.wallets.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	converted, err := currency.Convert(amount, cur, wallet.Currency)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Append(ctx, domain.TransactionDraft{
		UserID:      userID,
		WalletID:    wallet.ID,
		Type:        txType,
		Amount:      converted,
		Currency:    wallet.Currency,
		BalanceType: domain.BalanceRewards,
		Reference:   reference,
		Metadata:    map[string]interface{}{"idempotency_key": idempotencyKey},
	})
	if err != nil {
		// Free the key so a retry of the same credit can execute instead of
		// replaying a claim that produced nothing.
		s.releaseClaim(ctx, idempotencyKey)
		return nil, err
	}

	// Bind before settling so a replay can find the transaction even while
	// settlement is still in flight.
	if err := s.guard.Bind(ctx, idempotencyKey, tx.ID); err != nil {
		// Without the binding no replay could ever find this transaction;
		// fail the entry and free the key instead of stranding the key.
		_ = s.ledger.Settle(context.WithoutCancel(ctx), tx.ID, domain.TxFailed)
		s.releaseClaim(ctx, idempotencyKey)
		return nil, err
	}

	if err := s.settle(ctx, tx.ID); err != nil {
		return nil, err
	}
	return s.ledger.GetByID(ctx, tx.ID)
}

func (s *WalletService) releaseClaim(ctx context.Context, key string) {
	if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
		logger.Error("failed to release idempotency key", "key", key, "error", err)
	}
}

// replay fetches the transaction created by the first caller for this key,
// waiting briefly if that caller has not bound it yet. A bound entry still
// pending means the first caller died mid-flight; settling it here finishes
// the credit instead of handing back an unsettled transaction.
func (s *WalletService) replay(ctx context.Context, key string) (*domain.Transaction, error) {
	for attempt := 0; attempt < s.replayAttempts; attempt++ {
		txID, err := s.guard.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if txID != 0 {
			tx, err := s.ledger.GetByID(ctx, txID)
			if err != nil {
				return nil, err
			}
			if tx.Status != domain.TxPending {
				return tx, nil
			}
			if err := s.settle(ctx, tx.ID); err != nil && !errors.Is(err, repository.ErrTransactionSettled) {
				return nil, err
			}
			return s.ledger.GetByID(ctx, tx.ID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.replayDelay):
		}
	}
	return nil, ErrRewardInFlight
}

// settle completes the pending entry, honoring cancellation before the
// balance delta is applied: a cancelled append settles to failed.
func (s *WalletService) settle(ctx context.Context, txID int64) error {
	if err := ctx.Err(); err != nil {
		// Best effort: mark the appended entry failed so no half-applied
		// state survives the cancellation.
		_ = s.ledger.Settle(context.WithoutCancel(ctx), txID, domain.TxFailed)
		return err
	}
	return s.ledger.Settle(ctx, txID, domain.TxCompleted)
}

// GetBalance returns the user's balances. Only completed transactions are
// reflected.
func (s *WalletService) GetBalance(ctx context.Context, userID int64) (domain.Balance, error) {
	return s.ledger.GetBalance(ctx, userID)
}

// GetTransactionHistory returns the user's ledger entries, newest first.
func (s *WalletService) GetTransactionHistory(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	return s.ledger.ListByUserID(ctx, userID, limit)
}
