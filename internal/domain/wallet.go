package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's two balance pools. Both balances are derived from
// completed transactions and must never go negative.
type Wallet struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	CashBalance       decimal.Decimal `db:"cash_balance" json:"cash_balance"`
	RewardsBalance    decimal.Decimal `db:"rewards_balance" json:"rewards_balance"`
	Currency          Currency        `db:"currency" json:"currency"`
	LastTransactionAt *time.Time      `db:"last_transaction_at" json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// Balance is the read-only view returned to callers. It reflects completed
// transactions only.
type Balance struct {
	Cash     decimal.Decimal `json:"cash_balance"`
	Rewards  decimal.Decimal `json:"rewards_balance"`
	Currency Currency        `json:"currency"`
}

// Total returns cash + rewards.
func (b Balance) Total() decimal.Decimal {
	return b.Cash.Add(b.Rewards)
}
