package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reason classifies why points moved. Each reason fixes the sign of the delta.
type Reason string

const (
	ReasonPurchase         Reason = "purchase"
	ReasonPromotion        Reason = "promotion"
	ReasonReferralBonus    Reason = "referral_bonus"
	ReasonReferralWelcome  Reason = "referral_welcome"
	ReasonAdjustmentCredit Reason = "adjustment_credit"
	ReasonRedemption       Reason = "redemption"
	ReasonAdjustmentDebit  Reason = "adjustment_debit"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonPromotion, ReasonReferralBonus, ReasonReferralWelcome,
		ReasonAdjustmentCredit, ReasonRedemption, ReasonAdjustmentDebit:
		return true
	}
	return false
}

// Earns reports whether the reason books positive deltas.
func (r Reason) Earns() bool {
	switch r {
	case ReasonPurchase, ReasonPromotion, ReasonReferralBonus, ReasonReferralWelcome, ReasonAdjustmentCredit:
		return true
	}
	return false
}

type ReferenceType string

const (
	ReferenceNone       ReferenceType = ""
	ReferenceOrder      ReferenceType = "order"
	ReferenceRedemption ReferenceType = "redemption"
	ReferenceReferral   ReferenceType = "referral"
	ReferenceAdjustment ReferenceType = "adjustment"
)

type Reference struct {
	Type ReferenceType
	ID   string
}

// Entry is an immutable ledger posting. Sequence equals the account version
// right after the append and is unique per account.
type Entry struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID     snowflake.ID  `gorm:"not null;uniqueIndex:ux_ledger_entries_account_sequence,priority:1" json:"account_id"`
	Delta         int64         `gorm:"not null" json:"delta"`
	ReasonCode    Reason        `gorm:"size:32;not null" json:"reason_code"`
	ReferenceType ReferenceType `gorm:"size:32;not null;default:''" json:"reference_type,omitempty"`
	ReferenceID   string        `gorm:"size:128;not null;default:''" json:"reference_id,omitempty"`
	Memo          string        `gorm:"size:255;not null;default:''" json:"memo,omitempty"`
	Sequence      int64         `gorm:"not null;uniqueIndex:ux_ledger_entries_account_sequence,priority:2" json:"sequence"`
	BalanceAfter  int64         `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "loyalty_ledger_entries" }

// AccountState is the cached projection stored on loyalty_accounts.
type AccountState struct {
	ID             snowflake.ID
	Balance        int64
	LifetimeEarned int64
	Version        int64
}

// Totals is the authoritative fold over an account's entries.
type Totals struct {
	Balance        int64
	LifetimeEarned int64
	EntryCount     int64
	MaxSequence    int64
}

// AuditRow pairs the cached projection with the fold, read in one statement.
type AuditRow struct {
	AccountID      snowflake.ID
	Balance        int64
	LifetimeEarned int64
	Version        int64
	FoldedBalance  int64
	FoldedLifetime int64
	EntryCount     int64
	MaxSequence    int64
}

type Snapshot struct {
	AccountID      snowflake.ID `json:"account_id"`
	Balance        int64        `json:"balance"`
	LifetimeEarned int64        `json:"lifetime_earned"`
	Version        int64        `json:"version"`
}
