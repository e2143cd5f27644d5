package domain

import "time"

type User struct {
	ID           int64      `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Currency     Currency   `db:"currency" json:"currency"`
	ReferralCode string     `db:"referral_code" json:"referral_code,omitempty"`
	ReferredBy   *int64     `db:"referred_by" json:"referred_by,omitempty"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Currency is the closed set of currencies the platform supports.
type Currency string

const (
	CurrencyTND Currency = "TND"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

// ValidCurrency reports whether code is one of the supported currencies.
// Unknown codes are rejected at the boundary, never stored.
func ValidCurrency(code string) bool {
	switch Currency(code) {
	case CurrencyTND, CurrencyEUR, CurrencyUSD:
		return true
	}
	return false
}
