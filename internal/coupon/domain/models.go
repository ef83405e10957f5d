package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusIssued   Status = "issued"
	StatusConsumed Status = "consumed"
)

// Coupon is the single-use artifact minted by a redemption.
type Coupon struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	Code         string          `gorm:"size:32;not null;uniqueIndex" json:"code"`
	RedemptionID snowflake.ID    `gorm:"not null;uniqueIndex" json:"redemption_id"`
	AccountID    snowflake.ID    `gorm:"not null;index" json:"account_id"`
	ValueAmount  decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"value_amount"`
	Currency     string          `gorm:"size:3;not null" json:"currency"`
	Status       Status          `gorm:"size:16;not null" json:"status"`
	ConsumedAt   *time.Time      `json:"consumed_at,omitempty"`
	ConsumedRef  string          `gorm:"size:128;not null;default:''" json:"consumed_ref,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (Coupon) TableName() string { return "loyalty_coupons" }
