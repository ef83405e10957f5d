package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/loyalty/internal/coupon/domain"
	"gorm.io/gorm"
)

const couponColumns = `id, code, redemption_id, account_id, value_amount, currency, status, consumed_at, consumed_ref, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_coupons (`+couponColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		coupon.ID,
		coupon.Code,
		coupon.RedemptionID,
		coupon.AccountID,
		coupon.ValueAmount,
		coupon.Currency,
		coupon.Status,
		coupon.ConsumedAt,
		coupon.ConsumedRef,
		coupon.CreatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(
		`SELECT `+couponColumns+` FROM loyalty_coupons WHERE code = ?`,
		code,
	).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) MarkConsumed(ctx context.Context, db *gorm.DB, code, ref string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE loyalty_coupons SET status = ?, consumed_at = ?, consumed_ref = ?
		 WHERE code = ? AND status = ?`,
		domain.StatusConsumed,
		at,
		ref,
		code,
		domain.StatusIssued,
	)
	return res.RowsAffected, res.Error
}
