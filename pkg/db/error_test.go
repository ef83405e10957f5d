package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm translated", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pg code", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "sqlite text", err: errors.New("UNIQUE constraint failed: loyalty_redemptions.coupon_code"), want: true},
		{name: "mysql text", err: errors.New("Error 1062: Duplicate entry"), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKeyErr(tt.err))
		})
	}
}

func TestIsRetryableTxErr(t *testing.T) {
	assert.True(t, IsRetryableTxErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryableTxErr(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, IsRetryableTxErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsRetryableTxErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryableTxErr(nil))
}
