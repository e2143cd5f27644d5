package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxDeposit       TransactionType = "deposit"
	TxWithdrawal    TransactionType = "withdrawal"
	TxReward        TransactionType = "reward"
	TxInvestment    TransactionType = "investment"
	TxRentPayout    TransactionType = "rent_payout"
	TxReferralBonus TransactionType = "referral_bonus"
)

// TransactionStatus is the settlement state of a ledger entry. The only
// allowed mutation on a transaction is pending -> completed|failed, exactly
// once per id. Completed rows are final.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// BalanceType selects which wallet pool a transaction affects.
type BalanceType string

const (
	BalanceCash    BalanceType = "cash"
	BalanceRewards BalanceType = "rewards"
)

// Transaction is an immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID          int64                  `db:"id" json:"id"`
	UserID      int64                  `db:"user_id" json:"user_id"`
	WalletID    int64                  `db:"wallet_id" json:"wallet_id"`
	Type        TransactionType        `db:"type" json:"type"`
	Amount      decimal.Decimal        `db:"amount" json:"amount"`
	Currency    Currency               `db:"currency" json:"currency"`
	BalanceType BalanceType            `db:"balance_type" json:"balance_type"`
	Status      TransactionStatus      `db:"status" json:"status"`
	Reference   string                 `db:"reference" json:"reference,omitempty"`
	Metadata    map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	ProcessedAt *time.Time             `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
}

// TransactionDraft is what callers hand to the ledger for appending. The
// store assigns id, pending status and created_at.
type TransactionDraft struct {
	UserID      int64
	WalletID    int64
	Type        TransactionType
	Amount      decimal.Decimal
	Currency    Currency
	BalanceType BalanceType
	Reference   string
	Metadata    map[string]interface{}
}
