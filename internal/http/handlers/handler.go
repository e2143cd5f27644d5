package handlers

import (
	"crowdprop/internal/config"
	"crowdprop/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Handler struct {
	DB              *pgxpool.Pool
	WalletService   *service.WalletService
	ReferralService *service.ReferralService
	AuditService    *service.AuditService
}

func NewHandler(db *pgxpool.Pool, cfg *config.Config) *Handler {
	wallet := service.NewWalletService(db)
	referral := service.NewReferralService(db, wallet, cfg.Rewards)
	return &Handler{
		DB:              db,
		WalletService:   wallet,
		ReferralService: referral,
		AuditService:    service.NewAuditService(db),
	}
}

// getUserID extracts the authenticated user id set by the auth middleware.
func getUserID(c interface{ Get(string) (any, bool) }) (int64, bool) {
	uidVal, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	switch v := uidVal.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}
