package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	coupondomain "github.com/smallbiznis/loyalty/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	"github.com/smallbiznis/loyalty/internal/redemption/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxIdempotencyKeyLen = 128
	rateLimitEndpoint    = "redeem"
)

var errKeyRace = errors.New("redemption key inserted concurrently")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Coupons    coupondomain.Service
	Limiter    *ratelimit.AccountLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledger     ledgerdomain.Service
	coupons    coupondomain.Service
	limiter    *ratelimit.AccountLimiter
	obsMetrics *obsmetrics.Metrics
	maxPoints  int64
	step       int64
}

func New(p Params) domain.Service {
	step := p.Cfg.Loyalty.RedemptionPointsStep
	if step <= 0 {
		step = 1
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("redemption.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledger:     p.Ledger,
		coupons:    p.Coupons,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
		maxPoints:  p.Cfg.Loyalty.RedemptionMaxPoints,
		step:       step,
	}
}

func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (domain.Result, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if err := s.validate(req, key); err != nil {
		s.obsMetrics.RecordRedemption(ctx, "invalid")
		return domain.Result{}, err
	}

	// replays are answered before the limiter so retries never get throttled
	existing, err := s.repo.FindByKey(ctx, s.db, req.AccountID, key)
	if err != nil {
		return domain.Result{}, err
	}
	if existing != nil {
		return s.replay(ctx, *existing, req.Points)
	}

	if s.limiter.Enabled() {
		if _, err := s.limiter.Allow(ctx, rateLimitEndpoint, req.AccountID.String()); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				s.obsMetrics.RecordRateLimitDenied(ctx, rateLimitEndpoint)
				return domain.Result{}, domain.ErrRateLimited
			}
			return domain.Result{}, err
		}
	}

	var result domain.Result
	err = s.ledger.Atomically(ctx, "redeem", []snowflake.ID{req.AccountID}, func(tx *gorm.DB) error {
		result = domain.Result{}

		found, err := s.repo.FindByKey(ctx, tx, req.AccountID, key)
		if err != nil {
			return err
		}
		if found != nil {
			result.Redemption = *found
			result.Replayed = true
			return nil
		}

		redemptionID := s.genID.Generate()
		entry, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
			AccountID: req.AccountID,
			Delta:     -req.Points,
			Reason:    ledgerdomain.ReasonRedemption,
			Reference: ledgerdomain.Reference{Type: ledgerdomain.ReferenceRedemption, ID: redemptionID.String()},
		})
		if err != nil {
			return err
		}

		coupon, err := s.coupons.IssueTx(ctx, tx, coupondomain.IssueRequest{
			AccountID:    req.AccountID,
			RedemptionID: redemptionID,
			Points:       req.Points,
		})
		if err != nil {
			return err
		}

		record := domain.Redemption{
			ID:             redemptionID,
			AccountID:      req.AccountID,
			PointsSpent:    req.Points,
			CouponCode:     coupon.Code,
			ValueAmount:    coupon.ValueAmount,
			Currency:       coupon.Currency,
			IdempotencyKey: key,
			LedgerEntryID:  entry.ID,
			CreatedAt:      s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, &record); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errKeyRace
			}
			return err
		}

		result = domain.Result{
			Redemption:       record,
			Coupon:           coupon,
			RemainingBalance: entry.BalanceAfter,
		}
		return nil
	})

	switch {
	case errors.Is(err, errKeyRace):
		// another replica committed the same key first; the unique index
		// rolled our attempt back, so answer with the stored record
		found, findErr := s.repo.FindByKey(ctx, s.db, req.AccountID, key)
		if findErr != nil {
			return domain.Result{}, findErr
		}
		if found == nil {
			return domain.Result{}, err
		}
		return s.replay(ctx, *found, req.Points)
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		s.obsMetrics.RecordRedemption(ctx, "insufficient_balance")
		return domain.Result{}, err
	case err != nil:
		s.obsMetrics.RecordRedemption(ctx, "error")
		return domain.Result{}, err
	}

	if result.Replayed {
		return s.replay(ctx, result.Redemption, req.Points)
	}

	s.obsMetrics.RecordRedemption(ctx, "issued")
	s.log.Info("points redeemed",
		zap.String("account_id", req.AccountID.String()),
		zap.String("redemption_id", result.Redemption.ID.String()),
		zap.Int64("points", req.Points),
		zap.Int64("remaining_balance", result.RemainingBalance),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, accountID, redemptionID snowflake.ID) (domain.Redemption, error) {
	if accountID == 0 || redemptionID == 0 {
		return domain.Redemption{}, domain.ErrNotFound
	}
	item, err := s.repo.FindByID(ctx, s.db, accountID, redemptionID)
	if err != nil {
		return domain.Redemption{}, err
	}
	if item == nil {
		return domain.Redemption{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.Redemption, error) {
	page := pagination.Pagination{PageSize: limit}.Normalize()
	items, err := s.repo.ListByAccount(ctx, s.db, accountID, page.PageSize)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Redemption, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) validate(req domain.RedeemRequest, key string) error {
	if req.AccountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if req.Points <= 0 {
		return domain.ErrInvalidRedemptionAmount
	}
	if s.maxPoints > 0 && req.Points > s.maxPoints {
		return domain.ErrInvalidRedemptionAmount
	}
	if req.Points%s.step != 0 {
		return domain.ErrInvalidRedemptionAmount
	}
	if key == "" || len(key) > maxIdempotencyKeyLen {
		return domain.ErrInvalidIdempotencyKey
	}
	return nil
}

// replay answers a repeated key with the stored artifact. The same key with a
// different amount is a client bug, not a retry.
func (s *Service) replay(ctx context.Context, record domain.Redemption, points int64) (domain.Result, error) {
	if record.PointsSpent != points {
		s.obsMetrics.RecordRedemption(ctx, "key_reuse")
		return domain.Result{}, domain.ErrIdempotencyKeyReuse
	}

	coupon, err := s.coupons.GetByCode(ctx, record.CouponCode)
	if err != nil {
		return domain.Result{}, err
	}
	balance, err := s.ledger.GetBalance(ctx, record.AccountID)
	if err != nil {
		return domain.Result{}, err
	}

	s.obsMetrics.RecordRedemption(ctx, "replayed")
	return domain.Result{
		Redemption:       record,
		Coupon:           coupon,
		RemainingBalance: balance,
		Replayed:         true,
	}, nil
}
