package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Claim records that an account redeemed another account's referral code.
// An account can claim at most once; its own code can be claimed by anyone.
type Claim struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	ClaimantAccountID snowflake.ID `gorm:"not null;uniqueIndex" json:"claimant_account_id"`
	ReferrerAccountID snowflake.ID `gorm:"not null;index" json:"referrer_account_id"`
	Code              string       `gorm:"size:16;not null" json:"code"`
	ClaimantPoints    int64        `gorm:"not null" json:"claimant_points"`
	ReferrerPoints    int64        `gorm:"not null" json:"referrer_points"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
}

func (Claim) TableName() string { return "loyalty_referral_claims" }

type Stats struct {
	Code         string `json:"code"`
	Claims       int64  `json:"claims"`
	PointsEarned int64  `json:"points_earned"`
}
