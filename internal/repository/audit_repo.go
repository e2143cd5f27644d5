package repository

import (
	"context"
	"encoding/json"

	"crowdprop/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_logs (user_id, action, category, details, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.UserID, log.Action, log.Category, detailsJSON, log.IP, log.UserAgent)
	return storageErr("create audit log", err)
}

// GetByUserID returns audit logs for a user, newest first
func (r *AuditRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, action, category, details, ip, user_agent, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, storageErr("list audit logs", err)
	}
	defer rows.Close()

	var result []*domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		var detailsJSON []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.Category,
			&detailsJSON, &entry.IP, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, storageErr("scan audit log", err)
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &entry.Details)
		}
		result = append(result, &entry)
	}
	return result, storageErr("list audit logs", rows.Err())
}
