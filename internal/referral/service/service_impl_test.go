package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	accountrepo "github.com/smallbiznis/loyalty/internal/account/repository"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/loyalty/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/loyalty/internal/ledger/service"
	"github.com/smallbiznis/loyalty/internal/lock"
	"github.com/smallbiznis/loyalty/internal/referral/domain"
	"github.com/smallbiznis/loyalty/internal/referral/repository"
	"github.com/smallbiznis/loyalty/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db     *gorm.DB
	node   *snowflake.Node
	clk    *clock.FakeClock
	ledger ledgerdomain.Service
	svc    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t, &accountdomain.Account{}, &ledgerdomain.Entry{}, &domain.Claim{})
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.Config{Loyalty: config.LoyaltyConfig{
		LedgerMaxRetries:       5,
		LockWaitTimeout:        5 * time.Second,
		ReferralClaimantPoints: 100,
		ReferralReferrerPoints: 200,
	}}
	log := zap.NewNop()

	ledger := ledgersvc.New(ledgersvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg,
		Repo:   ledgerrepo.Provide(),
		Locker: lock.New(lock.Params{Cfg: cfg, Log: log}),
	})
	svc := New(Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: cfg,
		Repo:     repository.Provide(),
		Accounts: accountrepo.Provide(),
		Ledger:   ledger,
	}).(*Service)

	return &harness{db: db, node: node, clk: clk, ledger: ledger, svc: svc}
}

func (h *harness) account(t *testing.T) accountdomain.Account {
	t.Helper()
	id := h.node.Generate()
	now := h.clk.Now()
	code := strings.ToUpper(id.Base32())
	acc := accountdomain.Account{ID: id, ReferralCode: code[len(code)-8:], CreatedAt: now, UpdatedAt: now}
	require.NoError(t, h.db.Create(&acc).Error)
	h.clk.Advance(time.Second)
	return acc
}

func (h *harness) balance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	snap, err := h.ledger.Snapshot(context.Background(), id)
	require.NoError(t, err)
	return snap.Balance
}

func TestClaimCreditsBothAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.account(t)
	claimant := h.account(t)

	claim, err := h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: claimant.ID, Code: " " + strings.ToLower(referrer.ReferralCode) + " "})
	require.NoError(t, err)
	assert.Equal(t, referrer.ID, claim.ReferrerAccountID)
	assert.Equal(t, referrer.ReferralCode, claim.Code)
	assert.Equal(t, int64(100), claim.ClaimantPoints)
	assert.Equal(t, int64(200), claim.ReferrerPoints)

	assert.Equal(t, int64(100), h.balance(t, claimant.ID))
	assert.Equal(t, int64(200), h.balance(t, referrer.ID))

	var stored accountdomain.Account
	require.NoError(t, h.db.First(&stored, "id = ?", claimant.ID).Error)
	assert.True(t, stored.ReferralClaimed)
}

func TestClaimOnlyOncePerClaimant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.account(t)
	c := h.account(t)
	b := h.account(t)

	_, err := h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: b.ID, Code: a.ReferralCode})
	require.NoError(t, err)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: b.ID, Code: a.ReferralCode})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: b.ID, Code: c.ReferralCode})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: b.ID, Code: b.ReferralCode})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: b.ID, Code: "ZZZZZZZZ"})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, int64(100), h.balance(t, b.ID))

	// A's code stays usable by others
	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: c.ID, Code: a.ReferralCode})
	require.NoError(t, err)
	assert.Equal(t, int64(400), h.balance(t, a.ID))
	assert.Equal(t, int64(100), h.balance(t, b.ID))
}

func TestClaimRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.account(t)

	_, err := h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: a.ID, Code: a.ReferralCode})
	assert.ErrorIs(t, err, domain.ErrSelfReferral)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: a.ID, Code: "NOSUCHCD"})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: a.ID, Code: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, err = h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: 12345, Code: a.ReferralCode})
	assert.ErrorIs(t, err, accountdomain.ErrNotFound)

	var claims int64
	require.NoError(t, h.db.Model(&domain.Claim{}).Count(&claims).Error)
	assert.Zero(t, claims)
}

func TestConcurrentClaimsSucceedOnce(t *testing.T) {
	h := newHarness(t)
	claimant := h.account(t)
	referrers := []accountdomain.Account{h.account(t), h.account(t), h.account(t), h.account(t)}

	errs := make([]error, len(referrers))
	var wg sync.WaitGroup
	for i, ref := range referrers {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			_, errs[i] = h.svc.Claim(context.Background(), domain.ClaimRequest{ClaimantID: claimant.ID, Code: code})
		}(i, ref.ReferralCode)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, errors.Is(err, domain.ErrAlreadyClaimed), "unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(100), h.balance(t, claimant.ID))

	var credited int64
	for _, ref := range referrers {
		credited += h.balance(t, ref.ID)
	}
	assert.Equal(t, int64(200), credited)
}

func TestMutualClaimsDoNotDeadlock(t *testing.T) {
	h := newHarness(t)
	a := h.account(t)
	b := h.account(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.svc.Claim(context.Background(), domain.ClaimRequest{ClaimantID: a.ID, Code: b.ReferralCode})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = h.svc.Claim(context.Background(), domain.ClaimRequest{ClaimantID: b.ID, Code: a.ReferralCode})
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(300), h.balance(t, a.ID))
	assert.Equal(t, int64(300), h.balance(t, b.ID))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.account(t)
	for i := 0; i < 3; i++ {
		c := h.account(t)
		_, err := h.svc.Claim(ctx, domain.ClaimRequest{ClaimantID: c.ID, Code: a.ReferralCode})
		require.NoError(t, err)
	}

	stats, err := h.svc.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ReferralCode, stats.Code)
	assert.Equal(t, int64(3), stats.Claims)
	assert.Equal(t, int64(600), stats.PointsEarned)

	code, err := h.svc.GetCode(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ReferralCode, code)

	_, err = h.svc.GetCode(ctx, 999)
	assert.ErrorIs(t, err, accountdomain.ErrNotFound)
}
