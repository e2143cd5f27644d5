package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"crowdprop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// generateReferralCode returns a random 7-character lowercase hex code.
func generateReferralCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:7], nil
}

// Create inserts a new user with their currency preference.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	if u.Currency == "" {
		u.Currency = domain.CurrencyTND
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, currency) VALUES ($1, $2)
		RETURNING id, created_at
	`, u.Email, u.Currency).Scan(&u.ID, &u.CreatedAt)
	return storageErr("create user", err)
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, currency, COALESCE(referral_code, ''), referred_by, approved_at, created_at
		FROM users
		WHERE id = $1
	`, userID)

	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Currency, &u.ReferralCode, &u.ReferredBy, &u.ApprovedAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

// ResolveReferralCode finds the user owning a referral code.
func (r *UserRepository) ResolveReferralCode(ctx context.Context, code string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, currency, COALESCE(referral_code, ''), referred_by, approved_at, created_at
		FROM users
		WHERE referral_code = $1
	`, code)

	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Currency, &u.ReferralCode, &u.ReferredBy, &u.ApprovedAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storageErr("resolve referral code", err)
	}
	return &u, nil
}

// GetOrCreateReferralCode returns the user's permanent referral code,
// issuing one on first call. A code is never regenerated once assigned; the
// conditional update keeps concurrent first calls from overwriting each
// other.
func (r *UserRepository) GetOrCreateReferralCode(ctx context.Context, userID int64) (string, error) {
	var code *string
	err := r.db.QueryRow(ctx, `SELECT referral_code FROM users WHERE id = $1`, userID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", storageErr("get referral code", err)
	}
	if code != nil && *code != "" {
		return *code, nil
	}

	// Retry a few times in case of code collision with another user.
	for i := 0; i < 5; i++ {
		candidate, err := generateReferralCode()
		if err != nil {
			return "", storageErr("generate referral code", err)
		}
		tag, err := r.db.Exec(ctx, `
			UPDATE users SET referral_code = $1
			WHERE id = $2 AND referral_code IS NULL
		`, candidate, userID)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return "", storageErr("assign referral code", err)
		}
		if tag.RowsAffected() == 1 {
			return candidate, nil
		}
		// Another request assigned a code first; read it back.
		if err := r.db.QueryRow(ctx, `SELECT referral_code FROM users WHERE id = $1`, userID).Scan(&code); err != nil {
			return "", storageErr("reread referral code", err)
		}
		if code != nil && *code != "" {
			return *code, nil
		}
	}
	return "", storageErr("assign referral code", errors.New("exhausted attempts"))
}

// SetReferredBy records the referring user on the referee row, once.
func (r *UserRepository) SetReferredBy(ctx context.Context, userID, referrerID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET referred_by = $1
		WHERE id = $2 AND referred_by IS NULL
	`, referrerID, userID)
	return storageErr("set referred_by", err)
}

// UpdateCurrency switches the user's currency preference.
func (r *UserRepository) UpdateCurrency(ctx context.Context, userID int64, c domain.Currency) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET currency = $1 WHERE id = $2`, c, userID)
	if err != nil {
		return storageErr("update currency", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkApproved stamps the user's approval time, once.
func (r *UserRepository) MarkApproved(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET approved_at = NOW()
		WHERE id = $1 AND approved_at IS NULL
	`, userID)
	return storageErr("mark approved", err)
}
