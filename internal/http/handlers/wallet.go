package handlers

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"crowdprop/internal/currency"
	"crowdprop/internal/domain"
	"crowdprop/internal/http/middleware"
	"crowdprop/internal/repository"
	"crowdprop/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type amountRequest struct {
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Currency  string          `json:"currency" binding:"required"`
	Reference string          `json:"reference"`
}

// newReference generates a sortable unique reference for callers that do
// not supply one.
func newReference(prefix string) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// GetBalance returns the user's cash and rewards balances.
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, err := h.WalletService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.walletError(c, userID, "get_balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cash_balance":    balance.Cash,
		"rewards_balance": balance.Rewards,
		"total":           balance.Total(),
		"currency":        balance.Currency,
	})
}

// GetTransactions returns the user's ledger history.
func (h *Handler) GetTransactions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	txs, err := h.WalletService.GetTransactionHistory(c.Request.Context(), userID, 100)
	if err != nil {
		h.walletError(c, userID, "get_transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Deposit credits the user's cash balance.
func (h *Handler) Deposit(c *gin.Context) {
	h.cashOp(c, "deposit", domain.AuditActionDeposit, "DEP", h.WalletService.Deposit)
}

// Withdraw debits the user's cash balance.
func (h *Handler) Withdraw(c *gin.Context) {
	h.cashOp(c, "withdraw", domain.AuditActionWithdraw, "WDR", h.WalletService.Withdraw)
}

// RecordInvestment debits cash for an investment and feeds the referral
// engine with the investment event.
func (h *Handler) RecordInvestment(c *gin.Context) {
	userID, tx, req, ok := h.runCashOp(c, "record_investment", "INV", h.WalletService.RecordInvestmentDebit)
	if !ok {
		return
	}

	h.AuditService.LogWalletOp(c.Request.Context(), userID, domain.AuditActionInvestmentDebit, req.Amount, domain.Currency(req.Currency), req.Reference)

	// Drive referral qualification off the investment event. Errors here
	// never fail the investment itself.
	rewarded, err := h.ReferralService.OnInvestmentRecorded(c.Request.Context(), userID, req.Amount, domain.Currency(req.Currency))
	switch {
	case err != nil:
		h.AuditService.Log(c.Request.Context(), userID, domain.AuditActionReferralIgnored, domain.AuditCategoryReferral,
			map[string]interface{}{"error": err.Error()})
	case rewarded:
		middleware.ReferralRewards.Inc()
		h.AuditService.Log(c.Request.Context(), userID, domain.AuditActionReferralRewarded, domain.AuditCategoryReferral,
			map[string]interface{}{"reference": req.Reference})
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *Handler) cashOp(c *gin.Context, operation, auditAction, refPrefix string,
	op func(ctx context.Context, userID int64, amount decimal.Decimal, cur domain.Currency, reference string) (*domain.Transaction, error)) {
	userID, tx, req, ok := h.runCashOp(c, operation, refPrefix, op)
	if !ok {
		return
	}

	h.AuditService.LogWalletOp(c.Request.Context(), userID, auditAction, req.Amount, domain.Currency(req.Currency), req.Reference)
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *Handler) runCashOp(c *gin.Context, operation, refPrefix string,
	op func(ctx context.Context, userID int64, amount decimal.Decimal, cur domain.Currency, reference string) (*domain.Transaction, error)) (int64, *domain.Transaction, amountRequest, bool) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, nil, amountRequest{}, false
	}

	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return 0, nil, amountRequest{}, false
	}
	if req.Reference == "" {
		req.Reference = newReference(refPrefix)
	}

	tx, err := op(c.Request.Context(), userID, req.Amount, domain.Currency(req.Currency), req.Reference)
	if err != nil {
		middleware.WalletOps.WithLabelValues(operation, "error").Inc()
		h.walletError(c, userID, operation, err)
		return 0, nil, amountRequest{}, false
	}

	middleware.WalletOps.WithLabelValues(operation, "ok").Inc()
	return userID, tx, req, true
}

// walletError maps service errors to HTTP responses following the error
// taxonomy: validation 400, conflicts 409/402, infrastructure 503.
func (h *Handler) walletError(c *gin.Context, userID int64, operation string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidRewardType),
		errors.Is(err, currency.ErrUnsupportedCurrency):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrInsufficientFunds):
		h.AuditService.Log(c.Request.Context(), userID, domain.AuditActionInsufficientFunds, domain.AuditCategoryWallet,
			map[string]interface{}{"operation": operation})
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient funds"})
	case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, repository.ErrStorageUnavailable), errors.Is(err, service.ErrRewardInFlight):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
