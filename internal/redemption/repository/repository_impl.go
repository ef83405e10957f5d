package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/redemption/domain"
	"gorm.io/gorm"
)

const redemptionColumns = `id, account_id, points_spent, coupon_code, value_amount, currency, idempotency_key, ledger_entry_id, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, redemption *domain.Redemption) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_redemptions (`+redemptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		redemption.ID,
		redemption.AccountID,
		redemption.PointsSpent,
		redemption.CouponCode,
		redemption.ValueAmount,
		redemption.Currency,
		redemption.IdempotencyKey,
		redemption.LedgerEntryID,
		redemption.CreatedAt,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, accountID snowflake.ID, key string) (*domain.Redemption, error) {
	var redemption domain.Redemption
	err := db.WithContext(ctx).Raw(
		`SELECT `+redemptionColumns+` FROM loyalty_redemptions
		 WHERE account_id = ? AND idempotency_key = ?`,
		accountID,
		key,
	).Scan(&redemption).Error
	if err != nil {
		return nil, err
	}
	if redemption.ID == 0 {
		return nil, nil
	}
	return &redemption, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*domain.Redemption, error) {
	var redemption domain.Redemption
	err := db.WithContext(ctx).Raw(
		`SELECT `+redemptionColumns+` FROM loyalty_redemptions
		 WHERE account_id = ? AND id = ?`,
		accountID,
		id,
	).Scan(&redemption).Error
	if err != nil {
		return nil, err
	}
	if redemption.ID == 0 {
		return nil, nil
	}
	return &redemption, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]*domain.Redemption, error) {
	var items []*domain.Redemption
	err := db.WithContext(ctx).
		Model(&domain.Redemption{}).
		Where("account_id = ?", accountID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
