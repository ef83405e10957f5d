package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is a loyalty member. Balance, LifetimeEarned and Version are a
// cache of the ledger maintained by the ledger service only.
type Account struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalRef     *string      `gorm:"size:128;uniqueIndex" json:"external_ref,omitempty"`
	ReferralCode    string       `gorm:"size:16;not null;uniqueIndex" json:"referral_code"`
	ReferralClaimed bool         `gorm:"not null;default:false" json:"referral_claimed"`
	Balance         int64        `gorm:"not null;default:0" json:"balance"`
	LifetimeEarned  int64        `gorm:"not null;default:0" json:"lifetime_earned"`
	Version         int64        `gorm:"not null;default:0" json:"version"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "loyalty_accounts" }
