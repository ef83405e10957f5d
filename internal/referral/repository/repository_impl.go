package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/referral/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, claim *domain.Claim) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_referral_claims (id, claimant_account_id, referrer_account_id, code, claimant_points, referrer_points, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		claim.ID,
		claim.ClaimantAccountID,
		claim.ReferrerAccountID,
		claim.Code,
		claim.ClaimantPoints,
		claim.ReferrerPoints,
		claim.CreatedAt,
	).Error
}

func (r *repo) FindByClaimant(ctx context.Context, db *gorm.DB, claimantID snowflake.ID) (*domain.Claim, error) {
	var claim domain.Claim
	err := db.WithContext(ctx).Raw(
		`SELECT id, claimant_account_id, referrer_account_id, code, claimant_points, referrer_points, created_at
		 FROM loyalty_referral_claims WHERE claimant_account_id = ?`,
		claimantID,
	).Scan(&claim).Error
	if err != nil {
		return nil, err
	}
	if claim.ID == 0 {
		return nil, nil
	}
	return &claim, nil
}

func (r *repo) StatsByReferrer(ctx context.Context, db *gorm.DB, referrerID snowflake.ID) (int64, int64, error) {
	var row struct {
		Claims int64
		Points int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS claims, COALESCE(SUM(referrer_points), 0) AS points
		 FROM loyalty_referral_claims WHERE referrer_account_id = ?`,
		referrerID,
	).Scan(&row).Error
	return row.Claims, row.Points, err
}
