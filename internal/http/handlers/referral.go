package handlers

import (
	"errors"
	"net/http"

	"crowdprop/internal/domain"
	"crowdprop/internal/repository"
	"crowdprop/internal/service"

	"github.com/gin-gonic/gin"
)

// GetReferralInfo returns the user's permanent code, reward constants and
// referral stats.
func (h *Handler) GetReferralInfo(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	info, err := h.ReferralService.GetReferralInfo(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch referral information"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListReferrals returns the referrals made by the user.
func (h *Handler) ListReferrals(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	refs, err := h.ReferralService.ListReferrals(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list referrals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": refs})
}

type signupReferralRequest struct {
	ReferralCode string `json:"referral_code" binding:"required"`
}

// RegisterReferral links the authenticated (newly signed up) user to the
// owner of the supplied referral code. Duplicate and self-referrals are
// harmless races or user mistakes: they are swallowed with an audit trace
// and the signup flow proceeds without a user-facing error.
func (h *Handler) RegisterReferral(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req signupReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "referral code is required"})
		return
	}

	ref, err := h.ReferralService.RegisterReferral(c.Request.Context(), req.ReferralCode, userID)
	switch {
	case err == nil:
		h.AuditService.LogWithRequest(c.Request.Context(), userID, domain.AuditActionReferralRegistered, domain.AuditCategoryReferral,
			c.ClientIP(), c.Request.UserAgent(),
			map[string]interface{}{"referral_id": ref.ID, "referrer_id": ref.ReferrerID})
		c.JSON(http.StatusOK, gin.H{"referral": ref})
	case errors.Is(err, repository.ErrDuplicateReferral):
		h.AuditService.LogReferralIgnored(c.Request.Context(), userID, req.ReferralCode, "duplicate")
		c.JSON(http.StatusOK, gin.H{"referral": nil})
	case errors.Is(err, service.ErrSelfReferral):
		h.AuditService.LogReferralIgnored(c.Request.Context(), userID, req.ReferralCode, "self_referral")
		c.JSON(http.StatusOK, gin.H{"referral": nil})
	case errors.Is(err, service.ErrInvalidReferralCode):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid referral code"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process referral"})
	}
}

type switchCurrencyRequest struct {
	Currency string `json:"currency" binding:"required"`
}

// SwitchCurrency updates the user's currency preference.
func (h *Handler) SwitchCurrency(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req switchCurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil || !domain.ValidCurrency(req.Currency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid currency"})
		return
	}

	info, err := h.ReferralService.SwitchCurrency(c.Request.Context(), userID, domain.Currency(req.Currency))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to switch currency"})
		return
	}

	h.AuditService.Log(c.Request.Context(), userID, domain.AuditActionCurrencySwitched, domain.AuditCategoryReferral,
		map[string]interface{}{"currency": req.Currency})
	c.JSON(http.StatusOK, info)
}

// ApproveReferee marks a referee as approved (admin/KYC callback).
func (h *Handler) ApproveReferee(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.ReferralService.OnRefereeApproved(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record approval"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
