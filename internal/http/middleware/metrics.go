package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RLRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_requests_total",
			Help: "Total requests seen by the rate limiter",
		},
		[]string{"endpoint"},
	)
	RLBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limiter_blocked_total",
			Help: "Total requests blocked by the rate limiter",
		},
		[]string{"endpoint"},
	)
	WalletOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Total wallet operations handled, by operation and result",
		},
		[]string{"operation", "result"},
	)
	ReferralRewards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_rewards_issued_total",
			Help: "Total referral reward pairs issued",
		},
	)
)

func init() {
	prometheus.MustRegister(RLRequests)
	prometheus.MustRegister(RLBlocked)
	prometheus.MustRegister(WalletOps)
	prometheus.MustRegister(ReferralRewards)
}
