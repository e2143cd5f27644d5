package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository maps an idempotency key to a single execution. The
// primary-key constraint on the key column is what makes Claim return true
// exactly once, across restarts and across processes.
type IdempotencyRepository struct {
	db *pgxpool.Pool
}

func NewIdempotencyRepository(db *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Claim attempts to take ownership of key. The first caller gets true;
// everyone after gets false for the lifetime of the key.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key) VALUES ($1)
		ON CONFLICT (key) DO NOTHING
	`, key)
	if err != nil {
		return false, storageErr("claim idempotency key", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Bind associates the claimed key with the transaction it produced, so a
// replayed call can return the original result.
func (r *IdempotencyRepository) Bind(ctx context.Context, key string, txID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE idempotency_keys SET transaction_id = $2 WHERE key = $1
	`, key, txID)
	return storageErr("bind idempotency key", err)
}

// Release frees a claimed key that never got a transaction bound, so a
// retry of the failed execution can claim it again. Bound keys are kept.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM idempotency_keys WHERE key = $1 AND transaction_id IS NULL
	`, key)
	return storageErr("release idempotency key", err)
}

// Lookup returns the transaction id bound to key. Zero when the key exists
// but the first execution has not bound a transaction yet.
func (r *IdempotencyRepository) Lookup(ctx context.Context, key string) (int64, error) {
	var txID *int64
	err := r.db.QueryRow(ctx, `
		SELECT transaction_id FROM idempotency_keys WHERE key = $1
	`, key).Scan(&txID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, storageErr("lookup idempotency key", err)
	}
	if txID == nil {
		return 0, nil
	}
	return *txID, nil
}
