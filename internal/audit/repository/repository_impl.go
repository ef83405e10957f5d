package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/loyalty/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

// List returns entries newest first. It fetches one row past filter.Limit so
// the caller can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := db.WithContext(ctx).Scopes(matching(filter)).Order("id DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func matching(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if v := strings.TrimSpace(filter.Action); v != "" {
			db = db.Where("action = ?", v)
		}
		if v := strings.TrimSpace(filter.TargetType); v != "" {
			db = db.Where("target_type = ?", v)
		}
		if v := strings.TrimSpace(filter.TargetID); v != "" {
			db = db.Where("target_id = ?", v)
		}
		if filter.BeforeID != 0 {
			db = db.Where("id < ?", filter.BeforeID)
		}
		return db
	}
}
