package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Redemption records one points-for-coupon exchange. The idempotency key is
// unique per account.
type Redemption struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_redemptions_account_key,priority:1" json:"account_id"`
	PointsSpent    int64           `gorm:"not null" json:"points_spent"`
	CouponCode     string          `gorm:"size:32;not null;uniqueIndex" json:"coupon_code"`
	ValueAmount    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"value_amount"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	IdempotencyKey string          `gorm:"size:128;not null;uniqueIndex:ux_redemptions_account_key,priority:2" json:"idempotency_key"`
	LedgerEntryID  snowflake.ID    `gorm:"not null" json:"ledger_entry_id"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (Redemption) TableName() string { return "loyalty_redemptions" }
