package service

import (
	"context"

	"crowdprop/internal/domain"
	"crowdprop/internal/logger"
	"crowdprop/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AuditService handles audit logging
type AuditService struct {
	repo *repository.AuditRepository
}

// NewAuditService creates a new audit service
func NewAuditService(db *pgxpool.Pool) *AuditService {
	return &AuditService{
		repo: repository.NewAuditRepository(db),
	}
}

// Log creates a new audit log entry
func (s *AuditService) Log(ctx context.Context, userID int64, action, category string, details map[string]interface{}) {
	entry := &domain.AuditLog{
		UserID:   userID,
		Action:   action,
		Category: category,
		Details:  details,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		logger.Error("failed to create audit log", "error", err, "action", action, "user_id", userID)
	}
}

// LogWithRequest creates an audit log with request info (IP, User-Agent)
func (s *AuditService) LogWithRequest(ctx context.Context, userID int64, action, category, ip, userAgent string, details map[string]interface{}) {
	entry := &domain.AuditLog{
		UserID:    userID,
		Action:    action,
		Category:  category,
		Details:   details,
		IP:        ip,
		UserAgent: userAgent,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		logger.Error("failed to create audit log", "error", err, "action", action, "user_id", userID)
	}
}

// LogWalletOp logs a balance-affecting operation
func (s *AuditService) LogWalletOp(ctx context.Context, userID int64, action string, amount decimal.Decimal, cur domain.Currency, reference string) {
	s.Log(ctx, userID, action, domain.AuditCategoryWallet, map[string]interface{}{
		"amount":    amount.String(),
		"currency":  cur,
		"reference": reference,
	})
}

// LogReferralIgnored records a duplicate or self-referral swallowed at
// signup. Those are harmless races or user mistakes; we keep the trace
// without surfacing an error.
func (s *AuditService) LogReferralIgnored(ctx context.Context, userID int64, code, reason string) {
	s.Log(ctx, userID, domain.AuditActionReferralIgnored, domain.AuditCategoryReferral, map[string]interface{}{
		"code":   code,
		"reason": reason,
	})
}

// GetHistory returns recent audit entries for a user
func (s *AuditService) GetHistory(ctx context.Context, userID int64, limit int) ([]*domain.AuditLog, error) {
	return s.repo.GetByUserID(ctx, userID, limit)
}
