package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	coupondomain "github.com/smallbiznis/loyalty/internal/coupon/domain"
)

type RedeemRequest struct {
	AccountID      snowflake.ID
	Points         int64
	IdempotencyKey string
}

type Result struct {
	Redemption       Redemption          `json:"redemption"`
	Coupon           coupondomain.Coupon `json:"coupon"`
	RemainingBalance int64               `json:"remaining_balance"`
	Replayed         bool                `json:"replayed"`
}

type Service interface {
	Redeem(ctx context.Context, req RedeemRequest) (Result, error)
	Get(ctx context.Context, accountID, redemptionID snowflake.ID) (Redemption, error)
	List(ctx context.Context, accountID snowflake.ID, limit int) ([]Redemption, error)
}

var (
	ErrInvalidRedemptionAmount = errors.New("invalid_redemption_amount")
	ErrInvalidIdempotencyKey   = errors.New("invalid_idempotency_key")
	ErrIdempotencyKeyReuse     = errors.New("idempotency_key_reuse")
	ErrNotFound                = errors.New("redemption_not_found")
	ErrRateLimited             = errors.New("rate_limited")
)
