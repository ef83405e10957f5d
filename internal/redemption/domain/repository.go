package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, redemption *Redemption) error
	FindByKey(ctx context.Context, db *gorm.DB, accountID snowflake.ID, key string) (*Redemption, error)
	FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*Redemption, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]*Redemption, error)
}
