package repository

import (
	"context"
	"errors"

	"crowdprop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WalletRepository struct {
	db *pgxpool.Pool
}

func NewWalletRepository(db *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `id, user_id, cash_balance, rewards_balance, currency, last_transaction_at, created_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.CashBalance, &w.RewardsBalance, &w.Currency, &w.LastTransactionAt, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByUserID retrieves a user's wallet.
func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, storageErr("get wallet", err)
	}
	return w, nil
}

// GetOrCreate returns the user's wallet, creating an empty one on first
// financial event. The wallet currency is taken from the user's preference
// at creation time. Safe under concurrent first calls: the unique user_id
// constraint makes the insert idempotent.
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64) (*domain.Wallet, error) {
	w, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	w, err = scanWallet(r.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, currency)
		SELECT id, currency FROM users WHERE id = $1
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING `+walletColumns+`
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storageErr("create wallet", err)
	}
	return w, nil
}
