package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/audit/repository"
	"github.com/smallbiznis/loyalty/internal/clock"
	obscontext "github.com/smallbiznis/loyalty/internal/observability/context"
	"github.com/smallbiznis/loyalty/internal/testutil"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"github.com/smallbiznis/loyalty/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewDB(t, &auditdomain.AuditLog{})
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	}).(*Service)
}

func TestRecordResolvesActorFromContext(t *testing.T) {
	svc := setupService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "ops-1")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = correlation.WithID(ctx, "checkout-7")

	err := svc.Record(ctx, auditdomain.Record{
		Action:     "ledger.adjust",
		TargetType: "account",
		TargetID:   "42",
		Metadata:   map[string]any{"delta": -5, "": "dropped"},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetType: "account", TargetID: "42"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActorTypeAdmin, entry.ActorType)
	assert.Equal(t, "ops-1", entry.ActorID)
	assert.Equal(t, "ledger.adjust", entry.Action)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "checkout-7", entry.CorrelationID)
	assert.Equal(t, json.Number("-5"), entry.Metadata["delta"])
	assert.NotContains(t, entry.Metadata, "")
}

func TestRecordExplicitActorWins(t *testing.T) {
	svc := setupService(t)
	ctx := obscontext.WithActor(context.Background(), "account", "42")

	require.NoError(t, svc.Record(ctx, auditdomain.Record{
		ActorType: auditdomain.ActorTypeSystem,
		ActorID:   "scheduler",
		Action:    "ledger.integrity_violation",
	}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActorTypeSystem, resp.AuditLogs[0].ActorType)
	assert.Equal(t, "scheduler", resp.AuditLogs[0].ActorID)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc := setupService(t)
	require.NoError(t, svc.Record(context.Background(), auditdomain.Record{Action: "integrity.audit"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActorTypeSystem, resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
	assert.Empty(t, resp.AuditLogs[0].Metadata)
}

func TestRecordRequiresAction(t *testing.T) {
	svc := setupService(t)
	err := svc.Record(context.Background(), auditdomain.Record{ActorType: auditdomain.ActorTypeAdmin, Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, auditdomain.Record{
			ActorType: auditdomain.ActorTypeService,
			Action:    "ledger.earn",
			Metadata:  map[string]any{"n": i},
		}))
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 3}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 3)
	assert.True(t, first.HasMore)
	assert.Greater(t, first.AuditLogs[0].ID, first.AuditLogs[1].ID)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 2)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "!!"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
