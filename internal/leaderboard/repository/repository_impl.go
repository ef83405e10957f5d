package repository

import (
	"context"

	"github.com/smallbiznis/loyalty/internal/leaderboard/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListAfter(ctx context.Context, db *gorm.DB, after *domain.Row, limit int) ([]*domain.Row, error) {
	var rows []*domain.Row
	stmt := db.WithContext(ctx).
		Table("loyalty_accounts").
		Select("id, lifetime_earned, created_at")
	if after != nil {
		stmt = stmt.Where(
			`lifetime_earned < ?
			 OR (lifetime_earned = ? AND created_at > ?)
			 OR (lifetime_earned = ? AND created_at = ? AND id > ?)`,
			after.LifetimeEarned,
			after.LifetimeEarned, after.CreatedAt,
			after.LifetimeEarned, after.CreatedAt, after.ID,
		)
	}
	err := stmt.
		Order("lifetime_earned desc, created_at asc, id asc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
