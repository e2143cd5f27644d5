package http

import (
	"time"

	"crowdprop/internal/config"
	"crowdprop/internal/http/handlers"
	"crowdprop/internal/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func RegisterRoutes(r *gin.Engine, db *pgxpool.Pool, cfg *config.Config, version string) {
	h := handlers.NewHandler(db, cfg)
	healthHandler := handlers.NewHealthHandler(db, version)

	r.GET("/health", healthHandler.Liveness)
	r.GET("/ready", healthHandler.Readiness)

	apiLimit := middleware.RedisRateLimit(cfg.APIRateLimit, time.Duration(cfg.APIRateWindow)*time.Second)

	api := r.Group("/api", apiLimit, middleware.RequireAuth())

	wallet := api.Group("/wallet")
	{
		wallet.GET("/balance", h.GetBalance)
		wallet.GET("/transactions", h.GetTransactions)
		wallet.POST("/deposit", h.Deposit)
		wallet.POST("/withdraw", h.Withdraw)
		wallet.POST("/invest", h.RecordInvestment)
	}

	referral := api.Group("/referral")
	{
		referral.GET("/info", h.GetReferralInfo)
		referral.GET("/list", h.ListReferrals)
		referral.POST("/register", h.RegisterReferral)
		referral.POST("/currency", h.SwitchCurrency)
		referral.POST("/approve", h.ApproveReferee)
	}

	api.GET("/account/audit", h.GetAuditHistory)
}
