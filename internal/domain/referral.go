package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralStatus is the referral lifecycle state. Transitions are strictly
// pending -> qualified -> rewarded, no skips, no reversals.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralQualified ReferralStatus = "qualified"
	ReferralRewarded  ReferralStatus = "rewarded"
)

// Referral tracks one referrer/referee relationship. At most one row exists
// per (referrer, referee) pair.
type Referral struct {
	ID                      int64           `db:"id" json:"id"`
	ReferrerID              int64           `db:"referrer_id" json:"referrer_id"`
	RefereeID               int64           `db:"referee_id" json:"referee_id"`
	Status                  ReferralStatus  `db:"status" json:"status"`
	RefereeInvestmentAmount decimal.Decimal `db:"referee_investment_amount" json:"referee_investment_amount"`
	ReferrerReward          decimal.Decimal `db:"referrer_reward" json:"referrer_reward"`
	RefereeReward           decimal.Decimal `db:"referee_reward" json:"referee_reward"`
	Currency                Currency        `db:"currency" json:"currency"`
	RefereeApprovedAt       *time.Time      `db:"referee_approved_at" json:"referee_approved_at,omitempty"`
	QualifiedAt             *time.Time      `db:"qualified_at" json:"qualified_at,omitempty"`
	RewardedAt              *time.Time      `db:"rewarded_at" json:"rewarded_at,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
}

// ReferralStats summarizes a user's referral activity.
type ReferralStats struct {
	TotalReferred int             `json:"total_referred"`
	TotalInvested int             `json:"total_invested"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
}

// ReferralInfo is the aggregate returned by the referral read query.
type ReferralInfo struct {
	UserID         int64           `json:"user_id"`
	Code           string          `json:"code"`
	Currency       Currency        `json:"currency"`
	ReferralAmount decimal.Decimal `json:"referral_amount"`
	MinInvestment  decimal.Decimal `json:"min_investment"`
	Stats          ReferralStats   `json:"stats"`
}
