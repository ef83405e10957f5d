package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, claim *Claim) error
	FindByClaimant(ctx context.Context, db *gorm.DB, claimantID snowflake.ID) (*Claim, error)
	StatsByReferrer(ctx context.Context, db *gorm.DB, referrerID snowflake.ID) (claims int64, points int64, err error)
}
