package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crowdprop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerRepository is the durable append-only transaction log plus the
// atomic balance adjustment that settles entries against wallets.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append persists a draft as a pending transaction and assigns its id.
// No balance is touched until the entry is settled.
func (r *LedgerRepository) Append(ctx context.Context, draft domain.TransactionDraft) (*domain.Transaction, error) {
	metaJSON, err := json.Marshal(draft.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	tx := &domain.Transaction{
		UserID:      draft.UserID,
		WalletID:    draft.WalletID,
		Type:        draft.Type,
		Amount:      draft.Amount,
		Currency:    draft.Currency,
		BalanceType: draft.BalanceType,
		Status:      domain.TxPending,
		Reference:   draft.Reference,
		Metadata:    draft.Metadata,
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, wallet_id, type, amount, currency, balance_type, status, reference, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)
		RETURNING id, created_at
	`, draft.UserID, draft.WalletID, draft.Type, draft.Amount, draft.Currency, draft.BalanceType, draft.Reference, metaJSON).
		Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return nil, storageErr("append transaction", err)
	}
	return tx, nil
}

// Settle transitions a pending transaction to completed or failed. When the
// outcome is completed the wallet balance is adjusted by the signed amount
// in the same database transaction, so a reader can never observe one
// without the other. A completed debit that would drive the balance
// negative flips the outcome to failed and returns ErrInsufficientFunds.
func (r *LedgerRepository) Settle(ctx context.Context, txID int64, outcome domain.TransactionStatus) error {
	if outcome != domain.TxCompleted && outcome != domain.TxFailed {
		return fmt.Errorf("settle outcome must be completed or failed, got %q", outcome)
	}

	dbTx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin settle", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	// Claim the pending -> settled transition. Zero rows means either the
	// id is unknown or another settle already won.
	var walletID int64
	var amount decimal.Decimal
	var balanceType domain.BalanceType
	err = dbTx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2, processed_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING wallet_id, amount, balance_type
	`, txID, outcome).Scan(&walletID, &amount, &balanceType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classifySettleMiss(ctx, txID)
		}
		return storageErr("settle transaction", err)
	}

	if outcome == domain.TxFailed {
		if err := dbTx.Commit(ctx); err != nil {
			return storageErr("commit settle", err)
		}
		return nil
	}

	column := "cash_balance"
	if balanceType == domain.BalanceRewards {
		column = "rewards_balance"
	}

	// Guarded adjustment: the WHERE clause is the compare-and-set that
	// keeps the balance non-negative under concurrent settles.
	tag, err := dbTx.Exec(ctx, fmt.Sprintf(`
		UPDATE wallets
		SET %[1]s = %[1]s + $1, last_transaction_at = NOW()
		WHERE id = $2 AND %[1]s + $1 >= 0
	`, column), amount, walletID)
	if err != nil {
		return storageErr("adjust balance", err)
	}
	if tag.RowsAffected() == 0 {
		// Roll back the completed claim and record the entry as failed in
		// a fresh transaction, leaving the balance untouched.
		_ = dbTx.Rollback(ctx)
		if _, err := r.db.Exec(ctx, `
			UPDATE transactions SET status = 'failed', processed_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, txID); err != nil {
			return storageErr("mark failed", err)
		}
		return ErrInsufficientFunds
	}

	if err := dbTx.Commit(ctx); err != nil {
		return storageErr("commit settle", err)
	}
	return nil
}

func (r *LedgerRepository) classifySettleMiss(ctx context.Context, txID int64) error {
	var status domain.TransactionStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, txID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return storageErr("inspect transaction", err)
	}
	return ErrTransactionSettled
}

// GetBalance returns the balances derived from completed transactions. A
// user without a wallet yet reads as zero in their preferred currency.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID int64) (domain.Balance, error) {
	var b domain.Balance
	err := r.db.QueryRow(ctx, `
		SELECT cash_balance, rewards_balance, currency FROM wallets WHERE user_id = $1
	`, userID).Scan(&b.Cash, &b.Rewards, &b.Currency)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Balance{}, storageErr("get balance", err)
	}

	err = r.db.QueryRow(ctx, `SELECT currency FROM users WHERE id = $1`, userID).Scan(&b.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Balance{}, ErrUserNotFound
		}
		return domain.Balance{}, storageErr("get balance", err)
	}
	return b, nil
}

// GetByID retrieves a single transaction.
func (r *LedgerRepository) GetByID(ctx context.Context, txID int64) (*domain.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx, `
		SELECT id, user_id, wallet_id, type, amount, currency, balance_type, status, reference, metadata, processed_at, created_at
		FROM transactions
		WHERE id = $1
	`, txID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, storageErr("get transaction", err)
	}
	return tx, nil
}

// ListByUserID returns recent transactions for a user, newest first.
func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, wallet_id, type, amount, currency, balance_type, status, reference, metadata, processed_at, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	var result []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storageErr("scan transaction", err)
		}
		result = append(result, tx)
	}
	return result, storageErr("list transactions", rows.Err())
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var metaJSON []byte
	err := row.Scan(&tx.ID, &tx.UserID, &tx.WalletID, &tx.Type, &tx.Amount, &tx.Currency,
		&tx.BalanceType, &tx.Status, &tx.Reference, &metaJSON, &tx.ProcessedAt, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &tx.Metadata)
	}
	return &tx, nil
}
