package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	MarkConsumed(ctx context.Context, db *gorm.DB, code, ref string, at time.Time) (int64, error)
}
