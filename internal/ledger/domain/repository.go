package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindAccountState(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*AccountState, error)
	// CompareAndSwapState writes next only when the stored version still
	// equals expectedVersion. Zero affected rows means a concurrent writer won.
	CompareAndSwapState(ctx context.Context, db *gorm.DB, next AccountState, expectedVersion int64, now time.Time) (int64, error)
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByReference(ctx context.Context, db *gorm.DB, accountID snowflake.ID, ref Reference) (*Entry, error)
	SumByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (Totals, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, beforeSequence int64, limit int) ([]*Entry, error)
	LoadAudit(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*AuditRow, error)
	ListAudit(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*AuditRow, error)
}
