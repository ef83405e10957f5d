package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*Account, error)
	FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*Account, error)
	// MarkReferralClaimed flips referral_claimed to true only if it is still
	// false and returns the affected row count.
	MarkReferralClaimed(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
