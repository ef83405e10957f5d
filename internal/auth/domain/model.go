package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleService  Role = "service"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleService, RoleAdmin:
		return true
	default:
		return false
	}
}

// Claims is the token payload. Subject carries the account id for
// customers and the client name for service and admin tokens.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the verified caller.
type Principal struct {
	Subject   string
	Role      Role
	AccountID snowflake.ID
}

// Privileged reports whether the caller may act on any account.
func (p Principal) Privileged() bool {
	return p.Role == RoleService || p.Role == RoleAdmin
}

type Service interface {
	Issue(subject string, role Role, ttl time.Duration) (string, error)
	Verify(token string) (Principal, error)
}

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMissingSecret = errors.New("auth_secret_missing")
	ErrInvalidRole   = errors.New("invalid_role")
)
