package domain

import (
	"context"
	"errors"
)

type CreateRequest struct {
	ExternalRef string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	GetByExternalRef(ctx context.Context, ref string) (Account, error)
	GetByReferralCode(ctx context.Context, code string) (Account, error)
}

var (
	ErrInvalidID          = errors.New("invalid_account_id")
	ErrInvalidExternalRef = errors.New("invalid_external_ref")
	ErrNotFound           = errors.New("account_not_found")
	ErrAlreadyExists      = errors.New("account_already_exists")
	ErrCodeExhausted      = errors.New("referral_code_exhausted")
)
