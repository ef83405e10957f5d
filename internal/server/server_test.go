package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	auditrepo "github.com/smallbiznis/loyalty/internal/audit/repository"
	auditservice "github.com/smallbiznis/loyalty/internal/audit/service"
	authdomain "github.com/smallbiznis/loyalty/internal/auth/domain"
	authservice "github.com/smallbiznis/loyalty/internal/auth/service"
	"github.com/smallbiznis/loyalty/internal/authorization"
	"github.com/smallbiznis/loyalty/internal/clock"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	redemptiondomain "github.com/smallbiznis/loyalty/internal/redemption/domain"
	referraldomain "github.com/smallbiznis/loyalty/internal/referral/domain"
	"github.com/smallbiznis/loyalty/internal/testutil"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	tierservice "github.com/smallbiznis/loyalty/internal/tier/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLedger struct {
	ledgerdomain.Service
	mock.Mock
}

func (m *mockLedger) Snapshot(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Snapshot, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(ledgerdomain.Snapshot), args.Error(1)
}

func (m *mockLedger) Earn(ctx context.Context, req ledgerdomain.EarnRequest) (ledgerdomain.EarnResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledgerdomain.EarnResult), args.Error(1)
}

func (m *mockLedger) Verify(ctx context.Context, accountID snowflake.ID) error {
	return m.Called(ctx, accountID).Error(0)
}

type mockRedemption struct {
	redemptiondomain.Service
	mock.Mock
}

func (m *mockRedemption) Redeem(ctx context.Context, req redemptiondomain.RedeemRequest) (redemptiondomain.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(redemptiondomain.Result), args.Error(1)
}

type mockReferral struct {
	referraldomain.Service
	mock.Mock
}

func (m *mockReferral) Claim(ctx context.Context, req referraldomain.ClaimRequest) (referraldomain.Claim, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(referraldomain.Claim), args.Error(1)
}

type testServer struct {
	*Server
	auth       *authservice.Service
	ledger     *mockLedger
	redemption *mockRedemption
	referral   *mockReferral
	audit      auditdomain.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t, &auditdomain.AuditLog{})
	clk := clock.NewFakeClock(time.Now().UTC())
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: testutil.NewNode(t), Clock: clk, Repo: auditrepo.Provide(),
	})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	table, err := tierdomain.NewTable(tierdomain.DefaultDefinitions())
	require.NoError(t, err)

	ts := &testServer{
		auth:       authservice.NewWithSecret([]byte("test-secret"), clk, log),
		ledger:     &mockLedger{},
		redemption: &mockRedemption{},
		referral:   &mockReferral{},
		audit:      audit,
	}

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	ts.Server = NewServer(ServerParams{
		Gin:           r,
		Log:           log,
		Authsvc:       ts.auth,
		AuthzSvc:      authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: audit}),
		AuditSvc:      audit,
		LedgerSvc:     ts.ledger,
		TierSvc:       tierservice.New(tierservice.Params{Log: log, Holder: tierservice.NewStaticHolder(table, log)}),
		RedemptionSvc: ts.redemption,
		ReferralSvc:   ts.referral,
	})
	return ts
}

func (ts *testServer) token(t *testing.T, subject string, role authdomain.Role) string {
	t.Helper()
	token, err := ts.auth.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestMissingOrInvalidTokenIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	for _, header := range []string{"", "garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/balance", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		ts.engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
	}

	rec := ts.do(http.MethodGet, "/api/v1/loyalty/balance", "not.a.jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	ts.ledger.AssertNotCalled(t, "Snapshot", mock.Anything, mock.Anything)
}

func TestGetBalanceIncludesTierProgress(t *testing.T) {
	ts := newTestServer(t)
	accountID := snowflake.ID(1001)
	ts.ledger.On("Snapshot", mock.Anything, accountID).Return(ledgerdomain.Snapshot{
		AccountID: accountID, Balance: 700, LifetimeEarned: 1200, Version: 3,
	}, nil)

	rec := ts.do(http.MethodGet, "/api/v1/loyalty/balance", ts.token(t, accountID.String(), authdomain.RoleCustomer), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data balanceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(700), body.Data.Balance)
	assert.Equal(t, int64(1200), body.Data.LifetimeEarned)
	assert.Equal(t, "Silver", body.Data.Tier)
	assert.True(t, body.Data.DiscountPercentage.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, body.Data.NextTier)
	assert.Equal(t, "Gold", *body.Data.NextTier)
	assert.Equal(t, int64(3800), body.Data.PointsToNextTier)
}

func TestCustomerCannotReadAnotherAccount(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/loyalty/balance?account_id=2002", ts.token(t, "1001", authdomain.RoleCustomer), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	ts.ledger.AssertNotCalled(t, "Snapshot", mock.Anything, mock.Anything)
}

func TestPrivilegedCallerNamesAccount(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "orders", authdomain.RoleService)

	rec := ts.do(http.MethodGet, "/api/v1/loyalty/balance", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_account_id", decodeError(t, rec).Errors[0].Code)

	ts.ledger.On("Snapshot", mock.Anything, snowflake.ID(2002)).Return(ledgerdomain.Snapshot{AccountID: 2002}, nil)
	rec = ts.do(http.MethodGet, "/api/v1/loyalty/balance?account_id=2002", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedeemTakesIdempotencyKeyFromHeader(t *testing.T) {
	ts := newTestServer(t)
	accountID := snowflake.ID(1001)
	ts.redemption.On("Redeem", mock.Anything, redemptiondomain.RedeemRequest{
		AccountID: accountID, Points: 500, IdempotencyKey: "key-1",
	}).Return(redemptiondomain.Result{
		Redemption: redemptiondomain.Redemption{
			ID: 77, AccountID: accountID, PointsSpent: 500, CouponCode: "LOY-ABCD1234",
			ValueAmount: decimal.NewFromInt(5), Currency: "USD",
		},
		RemainingBalance: 700,
	}, nil).Once()

	token := ts.token(t, accountID.String(), authdomain.RoleCustomer)
	rec := ts.do(http.MethodPost, "/api/v1/loyalty/redeem", token, `{"points":500}`, idempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Data redeemResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "LOY-ABCD1234", body.Data.CouponCode)
	assert.Equal(t, int64(700), body.Data.RemainingBalance)
	assert.Equal(t, "77", body.Data.RedemptionID)
	ts.redemption.AssertExpectations(t)

	rec = ts.do(http.MethodPost, "/api/v1/loyalty/redeem", token, `{"points":500,"idempotency_key":"other"}`, idempotencyKeyHeader, "key-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedeemRejections(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"insufficient balance", ledgerdomain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{"bad amount", redemptiondomain.ErrInvalidRedemptionAmount, http.StatusBadRequest, "validation_error"},
		{"key reuse", redemptiondomain.ErrIdempotencyKeyReuse, http.StatusConflict, "idempotency_key_reuse"},
		{"throttled", redemptiondomain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"contention", ledgerdomain.ErrConflictRetryExhausted, http.StatusServiceUnavailable, "conflict_retry_exhausted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.redemption.On("Redeem", mock.Anything, mock.Anything).Return(redemptiondomain.Result{}, tc.err)

			rec := ts.do(http.MethodPost, "/api/v1/loyalty/redeem", ts.token(t, "1001", authdomain.RoleCustomer), `{"points":600,"idempotency_key":"k"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeError(t, rec).Type)
		})
	}
}

func TestRedeemRejectsNonIntegralPoints(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "1001", authdomain.RoleCustomer)

	for _, body := range []string{
		`{"points":1.5,"idempotency_key":"k1"}`,
		`{"points":99999999999999999999,"idempotency_key":"k1"}`,
	} {
		rec := ts.do(http.MethodPost, "/api/v1/loyalty/redeem", token, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		payload := decodeError(t, rec)
		assert.Equal(t, "validation_error", payload.Type)
		require.Len(t, payload.Errors, 1)
		assert.Equal(t, "invalid_redemption_amount", payload.Errors[0].Code, body)
	}
	ts.redemption.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything)
}

func TestRedeemPoints(t *testing.T) {
	points, err := redeemPoints(decimal.RequireFromString("250"))
	require.NoError(t, err)
	assert.Equal(t, int64(250), points)

	points, err = redeemPoints(decimal.RequireFromString("-3"))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), points)

	_, err = redeemPoints(decimal.RequireFromString("0.25"))
	assert.ErrorIs(t, err, redemptiondomain.ErrInvalidRedemptionAmount)
}

func TestClaimReferral(t *testing.T) {
	ts := newTestServer(t)
	ts.referral.On("Claim", mock.Anything, referraldomain.ClaimRequest{ClaimantID: 1001, Code: "ABCD2345"}).
		Return(referraldomain.Claim{ID: 9, ClaimantPoints: 100, ReferrerPoints: 200}, nil).Once()
	ts.referral.On("Claim", mock.Anything, referraldomain.ClaimRequest{ClaimantID: 1001, Code: "ABCD2345"}).
		Return(referraldomain.Claim{}, referraldomain.ErrAlreadyClaimed)

	token := ts.token(t, "1001", authdomain.RoleCustomer)
	rec := ts.do(http.MethodPost, "/api/v1/loyalty/referral/claim", token, `{"code":"ABCD2345"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data claimReferralResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(100), body.Data.PointsCredited)
	assert.Equal(t, int64(200), body.Data.ReferrerPoints)

	rec = ts.do(http.MethodPost, "/api/v1/loyalty/referral/claim", token, `{"code":"ABCD2345"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_claimed", decodeError(t, rec).Type)
}

func TestInternalEarnIsRoleGated(t *testing.T) {
	ts := newTestServer(t)
	body := `{"account_id":"1001","points":250,"order_id":"ord-1"}`

	rec := ts.do(http.MethodPost, "/internal/v1/ledger/earn", ts.token(t, "1001", authdomain.RoleCustomer), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	ts.ledger.AssertNotCalled(t, "Earn", mock.Anything, mock.Anything)

	ts.ledger.On("Earn", mock.Anything, ledgerdomain.EarnRequest{AccountID: 1001, Points: 250, OrderID: "ord-1"}).
		Return(ledgerdomain.EarnResult{Entry: ledgerdomain.Entry{ID: 5, AccountID: 1001, Delta: 250}}, nil).Once()
	ts.ledger.On("Earn", mock.Anything, ledgerdomain.EarnRequest{AccountID: 1001, Points: 250, OrderID: "ord-1"}).
		Return(ledgerdomain.EarnResult{Entry: ledgerdomain.Entry{ID: 5, AccountID: 1001, Delta: 250}, Replayed: true}, nil)

	token := ts.token(t, "orders", authdomain.RoleService)
	rec = ts.do(http.MethodPost, "/internal/v1/ledger/earn", token, body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPost, "/internal/v1/ledger/earn", token, body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyAccountReportsFinding(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.On("Verify", mock.Anything, snowflake.ID(1001)).Return(&ledgerdomain.IntegrityError{
		AccountID: 1001, Kind: ledgerdomain.IntegrityBalanceMismatch, Cached: 750, Folded: 700,
	})

	rec := ts.do(http.MethodGet, "/internal/v1/accounts/1001/verify", ts.token(t, "ops", authdomain.RoleAdmin), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data verifyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Data.Consistent)
	require.NotNil(t, body.Data.Finding)
	assert.Equal(t, ledgerdomain.IntegrityBalanceMismatch, body.Data.Finding.Kind)

	rec = ts.do(http.MethodGet, "/internal/v1/accounts/1001/verify", ts.token(t, "orders", authdomain.RoleService), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	logs, err := ts.audit.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "authorization.denied"})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestListTiers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/loyalty/tiers", ts.token(t, "1001", authdomain.RoleCustomer), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []tierdomain.Definition `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
	assert.Equal(t, "Bronze", body.Data[0].Name)
	assert.Equal(t, int64(5000), body.Data[2].MinLifetimeEarned)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}
