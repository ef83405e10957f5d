package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ClaimRequest struct {
	ClaimantID snowflake.ID
	Code       string
}

type Service interface {
	GetCode(ctx context.Context, accountID snowflake.ID) (string, error)
	Claim(ctx context.Context, req ClaimRequest) (Claim, error)
	Stats(ctx context.Context, accountID snowflake.ID) (Stats, error)
}

var (
	ErrInvalidCode    = errors.New("invalid_code")
	ErrSelfReferral   = errors.New("self_referral")
	ErrAlreadyClaimed = errors.New("already_claimed")
)
