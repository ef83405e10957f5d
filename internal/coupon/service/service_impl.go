package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/coupon/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	codePrefix       = "LOYAL"
	maxIssueAttempts = 3
	savepointName    = "coupon_issue"
	maxConsumeRefLen = 128
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	pointValue decimal.Decimal
	currency   string
	newCode    func() (string, error)
}

func New(p Params) (domain.Service, error) {
	pointValue, err := decimal.NewFromString(strings.TrimSpace(p.Cfg.Loyalty.PointValue))
	if err != nil || !pointValue.IsPositive() {
		return nil, fmt.Errorf("%w: POINT_VALUE=%q", domain.ErrInvalidPointValue, p.Cfg.Loyalty.PointValue)
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Cfg.Loyalty.CouponCurrency))
	if currency == "" {
		currency = "USD"
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("coupon.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		pointValue: pointValue,
		currency:   currency,
		newCode:    newCouponCode,
	}, nil
}

// Value converts points into currency, rounding half to even at cents.
func (s *Service) Value(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(s.pointValue).RoundBank(2)
}

func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, req domain.IssueRequest) (domain.Coupon, error) {
	if req.AccountID == 0 || req.RedemptionID == 0 || req.Points <= 0 {
		return domain.Coupon{}, domain.ErrInvalidRequest
	}

	coupon := domain.Coupon{
		ID:           s.genID.Generate(),
		RedemptionID: req.RedemptionID,
		AccountID:    req.AccountID,
		ValueAmount:  s.Value(req.Points),
		Currency:     s.currency,
		Status:       domain.StatusIssued,
		CreatedAt:    s.clock.Now(),
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Coupon{}, fmt.Errorf("generate coupon code: %w", err)
		}
		coupon.Code = code

		// a failed INSERT poisons a postgres transaction, so collisions
		// roll back to a savepoint before the next attempt
		if err := tx.SavePoint(savepointName).Error; err != nil {
			return domain.Coupon{}, err
		}
		err = s.repo.Insert(ctx, tx, &coupon)
		if err == nil {
			return coupon, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return domain.Coupon{}, err
		}
		if rbErr := tx.RollbackTo(savepointName).Error; rbErr != nil {
			return domain.Coupon{}, rbErr
		}
		s.log.Warn("coupon code collision", zap.Int("attempt", attempt))
	}
	return domain.Coupon{}, domain.ErrCodeExhausted
}

func (s *Service) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Coupon{}, domain.ErrInvalidCode
	}
	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if item == nil {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return *item, nil
}

func (s *Service) Consume(ctx context.Context, code, ref string) (domain.Coupon, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Coupon{}, domain.ErrInvalidCode
	}
	ref = strings.TrimSpace(ref)
	if len(ref) > maxConsumeRefLen {
		return domain.Coupon{}, domain.ErrInvalidRequest
	}

	affected, err := s.repo.MarkConsumed(ctx, s.db, code, ref, s.clock.Now())
	if err != nil {
		return domain.Coupon{}, err
	}

	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if item == nil {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if affected == 0 {
		return domain.Coupon{}, domain.ErrCouponAlreadyConsumed
	}

	s.log.Info("coupon consumed",
		zap.String("coupon_id", item.ID.String()),
		zap.String("account_id", item.AccountID.String()),
		zap.String("consumed_ref", ref),
	)
	return *item, nil
}

func newCouponCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	raw := strings.ToUpper(hex.EncodeToString(buf))
	return fmt.Sprintf("%s-%s-%s", codePrefix, raw[:4], raw[4:]), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
