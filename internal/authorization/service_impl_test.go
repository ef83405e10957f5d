package authorization

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	auditrepo "github.com/smallbiznis/loyalty/internal/audit/repository"
	auditservice "github.com/smallbiznis/loyalty/internal/audit/service"
	authdomain "github.com/smallbiznis/loyalty/internal/auth/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (Service, auditdomain.Service) {
	t.Helper()
	db := testutil.NewDB(t, &auditdomain.AuditLog{})

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  auditrepo.Provide(),
	})
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit}), audit
}

func TestAuthorizeRoles(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	service := authdomain.Principal{Subject: "orders", Role: authdomain.RoleService}
	admin := authdomain.Principal{Subject: "ops", Role: authdomain.RoleAdmin}
	customer := authdomain.Principal{Subject: "42", Role: authdomain.RoleCustomer, AccountID: 42}

	assert.NoError(t, svc.Authorize(ctx, service, ObjectLedger, ActionLedgerEarn))
	assert.ErrorIs(t, svc.Authorize(ctx, service, ObjectLedger, ActionLedgerAdjust), ErrForbidden)

	assert.NoError(t, svc.Authorize(ctx, admin, ObjectLedger, ActionLedgerAdjust))
	assert.NoError(t, svc.Authorize(ctx, admin, ObjectAccount, ActionAccountVerify))

	assert.ErrorIs(t, svc.Authorize(ctx, customer, ObjectLedger, ActionLedgerEarn), ErrForbidden)
}

func TestAuthorizeScopesActorByRole(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	asAdmin := authdomain.Principal{Subject: "shared", Role: authdomain.RoleAdmin}
	require.NoError(t, svc.Authorize(ctx, asAdmin, ObjectLedger, ActionLedgerAdjust))

	asService := authdomain.Principal{Subject: "shared", Role: authdomain.RoleService}
	assert.NoError(t, svc.Authorize(ctx, asService, ObjectLedger, ActionLedgerEarn))
	assert.ErrorIs(t, svc.Authorize(ctx, asService, ObjectLedger, ActionLedgerAdjust), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	admin := authdomain.Principal{Subject: "ops", Role: authdomain.RoleAdmin}

	assert.ErrorIs(t, svc.Authorize(ctx, authdomain.Principal{}, ObjectLedger, ActionLedgerEarn), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, " ", ActionLedgerEarn), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, ObjectLedger, ""), ErrInvalidAction)
}

func TestDeniedIsAudited(t *testing.T) {
	svc, audit := setup(t)
	ctx := context.Background()

	customer := authdomain.Principal{Subject: "42", Role: authdomain.RoleCustomer, AccountID: 42}
	require.ErrorIs(t, svc.Authorize(ctx, customer, ObjectAuditLog, ActionAuditLogView), ErrForbidden)

	resp, err := audit.List(ctx, auditdomain.ListAuditLogRequest{Action: "authorization.denied"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActorTypeAccount, resp.AuditLogs[0].ActorType)
	assert.Equal(t, ObjectAuditLog, resp.AuditLogs[0].TargetType)
	assert.Equal(t, ActionAuditLogView, resp.AuditLogs[0].TargetID)
	assert.Equal(t, "customer", resp.AuditLogs[0].Metadata["role"])
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)

	first, err := NewEnforcer(db)
	require.NoError(t, err)
	before, err := first.GetPolicy()
	require.NoError(t, err)

	second, err := NewEnforcer(db)
	require.NoError(t, err)
	after, err := second.GetPolicy()
	require.NoError(t, err)

	assert.ElementsMatch(t, before, after)
}
