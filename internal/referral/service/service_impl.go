package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	accountsvc "github.com/smallbiznis/loyalty/internal/account/service"
	"github.com/smallbiznis/loyalty/internal/cache"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/referral/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Accounts   accountdomain.Repository
	Ledger     ledgerdomain.Service
	Codes      cache.ReferralCodeCache `optional:"true"`
	ObsMetrics *obsmetrics.Metrics     `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	accounts       accountdomain.Repository
	ledger         ledgerdomain.Service
	codes          cache.ReferralCodeCache
	obsMetrics     *obsmetrics.Metrics
	claimantPoints int64
	referrerPoints int64
}

func New(p Params) domain.Service {
	codes := p.Codes
	if codes == nil {
		codes = cache.NewReferralCodeCache()
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("referral.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		accounts:       p.Accounts,
		ledger:         p.Ledger,
		codes:          codes,
		obsMetrics:     p.ObsMetrics,
		claimantPoints: max(p.Cfg.Loyalty.ReferralClaimantPoints, 0),
		referrerPoints: max(p.Cfg.Loyalty.ReferralReferrerPoints, 0),
	}
}

func (s *Service) GetCode(ctx context.Context, accountID snowflake.ID) (string, error) {
	account, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", accountdomain.ErrNotFound
	}
	s.codes.SetOwner(account.ReferralCode, account.ID)
	return account.ReferralCode, nil
}

func (s *Service) Claim(ctx context.Context, req domain.ClaimRequest) (domain.Claim, error) {
	claim, err := s.claim(ctx, req)
	s.obsMetrics.RecordReferralClaim(ctx, claimOutcome(err))
	return claim, err
}

func (s *Service) claim(ctx context.Context, req domain.ClaimRequest) (domain.Claim, error) {
	code := accountsvc.NormalizeReferralCode(req.Code)
	if code == "" {
		return domain.Claim{}, domain.ErrInvalidCode
	}

	// a claimant who already claimed is rejected whatever code is offered
	claimant, err := s.accounts.FindByID(ctx, s.db, req.ClaimantID)
	if err != nil {
		return domain.Claim{}, err
	}
	if claimant == nil {
		return domain.Claim{}, accountdomain.ErrNotFound
	}
	if claimant.ReferralClaimed {
		return domain.Claim{}, domain.ErrAlreadyClaimed
	}

	referrerID, err := s.resolveOwner(ctx, code)
	if err != nil {
		return domain.Claim{}, err
	}
	if referrerID == req.ClaimantID {
		return domain.Claim{}, domain.ErrSelfReferral
	}

	var claim domain.Claim
	err = s.ledger.Atomically(ctx, "referral_claim", []snowflake.ID{req.ClaimantID, referrerID}, func(tx *gorm.DB) error {
		affected, err := s.accounts.MarkReferralClaimed(ctx, tx, req.ClaimantID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrAlreadyClaimed
		}

		claim = domain.Claim{
			ID:                s.genID.Generate(),
			ClaimantAccountID: req.ClaimantID,
			ReferrerAccountID: referrerID,
			Code:              code,
			ClaimantPoints:    s.claimantPoints,
			ReferrerPoints:    s.referrerPoints,
			CreatedAt:         s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, &claim); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyClaimed
			}
			return err
		}

		ref := ledgerdomain.Reference{Type: ledgerdomain.ReferenceReferral, ID: claim.ID.String()}
		if s.claimantPoints > 0 {
			if _, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
				AccountID: req.ClaimantID,
				Delta:     s.claimantPoints,
				Reason:    ledgerdomain.ReasonReferralWelcome,
				Reference: ref,
			}); err != nil {
				return err
			}
		}
		if s.referrerPoints > 0 {
			if _, err := s.ledger.AppendTx(ctx, tx, ledgerdomain.AppendRequest{
				AccountID: referrerID,
				Delta:     s.referrerPoints,
				Reason:    ledgerdomain.ReasonReferralBonus,
				Reference: ref,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Claim{}, err
	}

	s.log.Info("referral claimed",
		zap.String("claim_id", claim.ID.String()),
		zap.String("claimant_id", claim.ClaimantAccountID.String()),
		zap.String("referrer_id", claim.ReferrerAccountID.String()),
	)
	return claim, nil
}

func (s *Service) Stats(ctx context.Context, accountID snowflake.ID) (domain.Stats, error) {
	code, err := s.GetCode(ctx, accountID)
	if err != nil {
		return domain.Stats{}, err
	}
	claims, points, err := s.repo.StatsByReferrer(ctx, s.db, accountID)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{Code: code, Claims: claims, PointsEarned: points}, nil
}

func (s *Service) resolveOwner(ctx context.Context, code string) (snowflake.ID, error) {
	if id, ok := s.codes.GetOwner(code); ok {
		return id, nil
	}
	owner, err := s.accounts.FindByReferralCode(ctx, s.db, code)
	if err != nil {
		return 0, err
	}
	if owner == nil {
		return 0, domain.ErrInvalidCode
	}
	s.codes.SetOwner(code, owner.ID)
	return owner.ID, nil
}

func claimOutcome(err error) string {
	switch {
	case err == nil:
		return "claimed"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrSelfReferral):
		return "self_referral"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	default:
		return "error"
	}
}
