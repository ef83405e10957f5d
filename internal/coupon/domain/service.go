package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type IssueRequest struct {
	AccountID    snowflake.ID
	RedemptionID snowflake.ID
	Points       int64
}

// Issuer mints coupons inside the caller's transaction so a failed
// redemption never leaves a coupon behind.
type Issuer interface {
	IssueTx(ctx context.Context, tx *gorm.DB, req IssueRequest) (Coupon, error)
}

type Service interface {
	Issuer
	GetByCode(ctx context.Context, code string) (Coupon, error)
	Consume(ctx context.Context, code, ref string) (Coupon, error)
}

var (
	ErrInvalidRequest        = errors.New("invalid_coupon_request")
	ErrInvalidCode           = errors.New("invalid_coupon_code")
	ErrCouponNotFound        = errors.New("coupon_not_found")
	ErrCouponAlreadyConsumed = errors.New("coupon_already_consumed")
	ErrCodeExhausted         = errors.New("coupon_code_exhausted")
	ErrInvalidPointValue     = errors.New("invalid_point_value")
)
