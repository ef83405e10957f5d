package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCodeAttempts = 5

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	newCode func() (string, error)
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("account.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		newCode: newReferralCode,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Account, error) {
	var externalRef *string
	if ref := strings.TrimSpace(req.ExternalRef); ref != "" {
		if len(ref) > 128 {
			return domain.Account{}, domain.ErrInvalidExternalRef
		}
		existing, err := s.repo.FindByExternalRef(ctx, s.db, ref)
		if err != nil {
			return domain.Account{}, err
		}
		if existing != nil {
			return domain.Account{}, domain.ErrAlreadyExists
		}
		externalRef = &ref
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:          s.genID.Generate(),
		ExternalRef: externalRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Account{}, fmt.Errorf("generate referral code: %w", err)
		}
		account.ReferralCode = code

		err = s.repo.Insert(ctx, s.db, &account)
		if err == nil {
			s.log.Info("account created",
				zap.String("account_id", account.ID.String()),
				zap.Int("code_attempts", attempt),
			)
			return account, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return domain.Account{}, err
		}
		if externalRef != nil {
			// lost a race on external_ref rather than on the code
			existing, findErr := s.repo.FindByExternalRef(ctx, s.db, *externalRef)
			if findErr != nil {
				return domain.Account{}, findErr
			}
			if existing != nil {
				return domain.Account{}, domain.ErrAlreadyExists
			}
		}
		s.log.Warn("referral code collision", zap.Int("attempt", attempt))
	}

	return domain.Account{}, domain.ErrCodeExhausted
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Account, error) {
	accountID, err := ParseID(id)
	if err != nil {
		return domain.Account{}, err
	}
	return s.found(s.repo.FindByID(ctx, s.db, accountID))
}

func (s *Service) GetByExternalRef(ctx context.Context, ref string) (domain.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Account{}, domain.ErrInvalidExternalRef
	}
	return s.found(s.repo.FindByExternalRef(ctx, s.db, ref))
}

func (s *Service) GetByReferralCode(ctx context.Context, code string) (domain.Account, error) {
	code = NormalizeReferralCode(code)
	if code == "" {
		return domain.Account{}, domain.ErrNotFound
	}
	return s.found(s.repo.FindByReferralCode(ctx, s.db, code))
}

func (s *Service) found(item *domain.Account, err error) (domain.Account, error) {
	if err != nil {
		return domain.Account{}, err
	}
	if item == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *item, nil
}

// ParseID parses a snowflake account id from its decimal string form.
func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
