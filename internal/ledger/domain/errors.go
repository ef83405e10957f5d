package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidAccount         = errors.New("invalid_account")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrInvalidDelta           = errors.New("invalid_delta")
	ErrInvalidReason          = errors.New("invalid_reason")
	ErrReasonSignMismatch     = errors.New("reason_sign_mismatch")
	ErrInvalidPoints          = errors.New("invalid_points")
	ErrInvalidOrderID         = errors.New("invalid_order_id")
	ErrInvalidMemo            = errors.New("invalid_memo")
	ErrPointsOverflow         = errors.New("points_overflow")
	ErrInsufficientBalance    = errors.New("insufficient_balance")
	ErrVersionConflict        = errors.New("version_conflict")
	ErrConflictRetryExhausted = errors.New("conflict_retry_exhausted")
	ErrIntegrityViolation     = errors.New("integrity_violation")
)

const (
	IntegrityBalanceMismatch  = "balance_mismatch"
	IntegrityLifetimeMismatch = "lifetime_mismatch"
	IntegritySequenceMismatch = "sequence_mismatch"
	IntegrityNegativeBalance  = "negative_balance"
)

// IntegrityError describes a cached projection that disagrees with the
// ledger fold. It matches ErrIntegrityViolation with errors.Is.
type IntegrityError struct {
	AccountID snowflake.ID
	Kind      string
	Cached    int64
	Folded    int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity_violation: account %s %s (cached=%d folded=%d)", e.AccountID, e.Kind, e.Cached, e.Folded)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityViolation }

// Check compares the cached projection with the fold and returns the first
// disagreement, or nil.
func (r AuditRow) Check() *IntegrityError {
	switch {
	case r.Balance != r.FoldedBalance:
		return &IntegrityError{AccountID: r.AccountID, Kind: IntegrityBalanceMismatch, Cached: r.Balance, Folded: r.FoldedBalance}
	case r.LifetimeEarned != r.FoldedLifetime:
		return &IntegrityError{AccountID: r.AccountID, Kind: IntegrityLifetimeMismatch, Cached: r.LifetimeEarned, Folded: r.FoldedLifetime}
	case r.Version != r.EntryCount || r.Version != r.MaxSequence:
		return &IntegrityError{AccountID: r.AccountID, Kind: IntegritySequenceMismatch, Cached: r.Version, Folded: r.EntryCount}
	case r.Balance < 0:
		return &IntegrityError{AccountID: r.AccountID, Kind: IntegrityNegativeBalance, Cached: r.Balance, Folded: r.FoldedBalance}
	}
	return nil
}
