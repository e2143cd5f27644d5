package service

import (
	"context"

	"crowdprop/internal/domain"

	"github.com/shopspring/decimal"
)

// The services are written against these narrow store contracts rather than
// the pgx repositories directly. The repositories in internal/repository
// satisfy them; tests substitute in-memory implementations.

// LedgerStore is the durable append-only transaction log.
type LedgerStore interface {
	Append(ctx context.Context, draft domain.TransactionDraft) (*domain.Transaction, error)
	Settle(ctx context.Context, txID int64, outcome domain.TransactionStatus) error
	GetBalance(ctx context.Context, userID int64) (domain.Balance, error)
	GetByID(ctx context.Context, txID int64) (*domain.Transaction, error)
	ListByUserID(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error)
}

// WalletStore resolves wallets, creating them lazily on first use.
type WalletStore interface {
	GetOrCreate(ctx context.Context, userID int64) (*domain.Wallet, error)
}

// IdempotencyGuard maps an idempotency key to a single execution, backed by
// a uniqueness constraint in durable storage. Release frees a claimed key
// whose execution failed before binding, so the operation stays retryable.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Bind(ctx context.Context, key string, txID int64) error
	Lookup(ctx context.Context, key string) (int64, error)
	Release(ctx context.Context, key string) error
}

// UserDirectory is the collaborator that resolves users, referral codes and
// currency preferences.
type UserDirectory interface {
	GetByID(ctx context.Context, userID int64) (*domain.User, error)
	ResolveReferralCode(ctx context.Context, code string) (*domain.User, error)
	GetOrCreateReferralCode(ctx context.Context, userID int64) (string, error)
	SetReferredBy(ctx context.Context, userID, referrerID int64) error
	UpdateCurrency(ctx context.Context, userID int64, c domain.Currency) error
	MarkApproved(ctx context.Context, userID int64) error
}

// ReferralStore owns referral rows and the compare-and-set on their status.
type ReferralStore interface {
	Create(ctx context.Context, ref *domain.Referral) error
	GetByID(ctx context.Context, id int64) (*domain.Referral, error)
	GetByReferee(ctx context.Context, refereeID int64) (*domain.Referral, error)
	AddInvestment(ctx context.Context, id int64, amount decimal.Decimal) (*domain.Referral, error)
	MarkRefereeApproved(ctx context.Context, id int64) error
	TransitionStatus(ctx context.Context, id int64, from, to domain.ReferralStatus) error
	StatsByReferrer(ctx context.Context, referrerID int64) (domain.ReferralStats, error)
	ListByReferrer(ctx context.Context, referrerID int64) ([]*domain.Referral, error)
}
