package domain

import "github.com/shopspring/decimal"

// RewardTier holds the currency-specific referral constants: what each
// party earns and the cumulative investment the referee must reach before
// rewards are issued.
type RewardTier struct {
	ReferrerReward decimal.Decimal
	RefereeReward  decimal.Decimal
	MinInvestment  decimal.Decimal
}

// RewardTable maps a referral's currency to its reward tier.
type RewardTable map[Currency]RewardTier

// DefaultRewardTable returns the platform defaults. Values are business
// configuration and can be overridden from the environment (see config).
func DefaultRewardTable() RewardTable {
	return RewardTable{
		CurrencyTND: {
			ReferrerReward: decimal.NewFromInt(25),
			RefereeReward:  decimal.NewFromInt(25),
			MinInvestment:  decimal.NewFromInt(2000),
		},
		CurrencyEUR: {
			ReferrerReward: decimal.NewFromInt(10),
			RefereeReward:  decimal.NewFromInt(10),
			MinInvestment:  decimal.NewFromInt(800),
		},
		CurrencyUSD: {
			ReferrerReward: decimal.NewFromInt(12),
			RefereeReward:  decimal.NewFromInt(12),
			MinInvestment:  decimal.NewFromInt(900),
		},
	}
}
