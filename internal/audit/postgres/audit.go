package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/frahmantamala/payment-dashboard/internal/audit"
	auditDatamodel "github.com/frahmantamala/payment-dashboard/internal/core/datamodel/audit"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) audit.RepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, attempt *auditDatamodel.AuthAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *AuditRepository) ListRecent(ctx context.Context, filter audit.Filter) ([]*auditDatamodel.AuthAttempt, error) {
	var attempts []*auditDatamodel.AuthAttempt
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(filter.Limit)
	if filter.Email != "" {
		q = q.Where("email = ?", filter.Email)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	err := q.Find(&attempts).Error
	return attempts, err
}
