package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"travel-admin-backend/internal/models"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) WithTx(tx *gorm.DB) *AuditRepository {
	return &AuditRepository{db: tx}
}

func (r *AuditRepository) Create(ctx context.Context, entry *models.ReviewAuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return wrap("write review audit", "audit", entry.ID.String(), r.db.WithContext(ctx).Create(entry).Error)
}

// ListByResult returns the audit trail of one result, oldest first.
func (r *AuditRepository) ListByResult(ctx context.Context, resultID uuid.UUID) ([]models.ReviewAuditLog, error) {
	var entries []models.ReviewAuditLog
	err := r.db.WithContext(ctx).
		Where("result_id = ?", resultID).
		Order("created_at ASC").Order("id ASC").
		Find(&entries).Error
	return entries, wrap("list review audit", "audit", "", err)
}
