package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/loyalty/internal/auth/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newService(c clock.Clock) *Service {
	return NewWithSecret([]byte("test-secret"), c, zap.NewNop())
}

func TestIssueAndVerifyCustomer(t *testing.T) {
	svc := newService(clock.NewFakeClock(start))

	token, err := svc.Issue("1234567890", domain.RoleCustomer, time.Hour)
	require.NoError(t, err)

	principal, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, principal.Role)
	assert.EqualValues(t, 1234567890, principal.AccountID)
	assert.False(t, principal.Privileged())
}

func TestVerifyServiceToken(t *testing.T) {
	svc := newService(clock.NewFakeClock(start))

	token, err := svc.Issue("orders", domain.RoleService, time.Hour)
	require.NoError(t, err)

	principal, err := svc.Verify(token)
	require.NoError(t, err)
	assert.True(t, principal.Privileged())
	assert.Equal(t, "orders", principal.Subject)
	assert.Zero(t, principal.AccountID)
}

func TestVerifyRejects(t *testing.T) {
	fake := clock.NewFakeClock(start)
	svc := newService(fake)

	expiring, err := svc.Issue("1", domain.RoleCustomer, time.Minute)
	require.NoError(t, err)

	nonNumeric, err := svc.Issue("alice", domain.RoleCustomer, time.Hour)
	require.NoError(t, err)

	foreign, err := NewWithSecret([]byte("other"), fake, zap.NewNop()).Issue("1", domain.RoleCustomer, time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "iss": issuer, "exp": start.Add(time.Hour).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	fake.Advance(2 * time.Minute)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expiring,
		"non numeric":  nonNumeric,
		"wrong secret": foreign,
		"alg none":     unsigned,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(token)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestIssueValidation(t *testing.T) {
	svc := newService(clock.NewFakeClock(start))

	_, err := svc.Issue(" ", domain.RoleCustomer, time.Hour)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Issue("1", domain.Role("root"), time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestNewRequiresSecretInProduction(t *testing.T) {
	_, err := New(Params{
		Cfg:   config.Config{Environment: "production"},
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(start),
	})
	assert.ErrorIs(t, err, domain.ErrMissingSecret)

	svc, err := New(Params{
		Cfg:   config.Config{Environment: "development"},
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(start),
	})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
