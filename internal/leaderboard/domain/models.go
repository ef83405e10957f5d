package domain

import (
	"context"
	"iter"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	MinTopN = 1
	MaxTopN = 100
)

// Standing is one leaderboard row. Rank is the 1-based position.
type Standing struct {
	Rank           int          `json:"rank"`
	AccountID      snowflake.ID `json:"account_id"`
	LifetimeEarned int64        `json:"lifetime_earned"`
	Tier           string       `json:"tier"`
}

// Row is an account projection in leaderboard order.
type Row struct {
	ID             snowflake.ID
	LifetimeEarned int64
	CreatedAt      time.Time
}

type Repository interface {
	// ListAfter returns up to limit rows ordered by lifetime_earned desc,
	// created_at asc, id asc, starting strictly after the given row.
	ListAfter(ctx context.Context, db *gorm.DB, after *Row, limit int) ([]*Row, error)
}

type Service interface {
	// TopN yields at most n standings. Each range re-reads current state.
	TopN(ctx context.Context, n int) iter.Seq2[Standing, error]
	Collect(ctx context.Context, n int) ([]Standing, error)
}

// ClampN keeps n inside [MinTopN, MaxTopN].
func ClampN(n int) int {
	return min(max(n, MinTopN), MaxTopN)
}
