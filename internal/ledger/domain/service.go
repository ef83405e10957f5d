package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	AccountID snowflake.ID
	Delta     int64
	Reason    Reason
	Reference Reference
	Memo      string
}

type EarnRequest struct {
	AccountID snowflake.ID
	Points    int64
	OrderID   string
}

type EarnResult struct {
	Entry    Entry `json:"entry"`
	Replayed bool  `json:"replayed"`
}

type AdjustRequest struct {
	AccountID snowflake.ID
	Delta     int64
	Memo      string
	Actor     string
}

type ListEntriesRequest struct {
	AccountID snowflake.ID
	PageSize  int32
	PageToken string
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type VerifyBatchResult struct {
	Checked  int
	LastID   snowflake.ID
	Findings []*IntegrityError
}

// TxFunc runs inside a transaction that already holds the account locks.
type TxFunc func(tx *gorm.DB) error

type Service interface {
	Append(ctx context.Context, req AppendRequest) (Entry, error)
	// AppendTx appends inside a caller-owned transaction. The caller must
	// hold the account lock; conflicts surface as ErrVersionConflict.
	AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (Entry, error)
	// Atomically locks accountIDs in ascending order and runs fn in one
	// transaction, replaying it on version conflicts.
	Atomically(ctx context.Context, operation string, accountIDs []snowflake.ID, fn TxFunc) error

	Earn(ctx context.Context, req EarnRequest) (EarnResult, error)
	Adjust(ctx context.Context, req AdjustRequest) (Entry, error)

	GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error)
	GetLifetimeEarned(ctx context.Context, accountID snowflake.ID) (int64, error)
	Snapshot(ctx context.Context, accountID snowflake.ID) (Snapshot, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)

	Verify(ctx context.Context, accountID snowflake.ID) error
	VerifyBatch(ctx context.Context, afterID snowflake.ID, limit int) (VerifyBatchResult, error)
}
