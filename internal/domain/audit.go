package domain

import "time"

// AuditLog represents an audit log entry for tracking important actions
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    int64                  `db:"user_id" json:"user_id"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	UserAgent string                 `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Audit action categories
const (
	AuditCategoryAuth     = "auth"
	AuditCategoryWallet   = "wallet"
	AuditCategoryReferral = "referral"
	AuditCategoryAdmin    = "admin"
)

// Audit actions
const (
	// Auth actions
	AuditActionLogin  = "login"
	AuditActionLogout = "logout"

	// Wallet actions
	AuditActionDeposit           = "deposit"
	AuditActionWithdraw          = "withdraw"
	AuditActionInvestmentDebit   = "investment_debit"
	AuditActionRewardCredit      = "reward_credit"
	AuditActionInsufficientFunds = "insufficient_funds"

	// Referral actions
	AuditActionReferralRegistered = "referral_registered"
	AuditActionReferralIgnored    = "referral_ignored"
	AuditActionReferralQualified  = "referral_qualified"
	AuditActionReferralRewarded   = "referral_rewarded"
	AuditActionCurrencySwitched   = "currency_switched"
)
