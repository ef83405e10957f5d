package service

import (
	"context"
	"iter"

	"github.com/smallbiznis/loyalty/internal/leaderboard/domain"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pageSize = 25

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Tiers tierdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	tiers tierdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("leaderboard.service"),
		repo:  p.Repo,
		tiers: p.Tiers,
	}
}

func (s *Service) TopN(ctx context.Context, n int) iter.Seq2[domain.Standing, error] {
	n = domain.ClampN(n)
	return func(yield func(domain.Standing, error) bool) {
		var after *domain.Row
		rank := 0
		for rank < n {
			want := min(pageSize, n-rank)
			rows, err := s.repo.ListAfter(ctx, s.db, after, want)
			if err != nil {
				yield(domain.Standing{}, err)
				return
			}
			for _, row := range rows {
				rank++
				standing := domain.Standing{
					Rank:           rank,
					AccountID:      row.ID,
					LifetimeEarned: row.LifetimeEarned,
				}
				if s.tiers != nil {
					standing.Tier = s.tiers.Resolve(row.LifetimeEarned).Name
				}
				if !yield(standing, nil) {
					return
				}
				after = row
			}
			if len(rows) < want {
				return
			}
		}
	}
}

func (s *Service) Collect(ctx context.Context, n int) ([]domain.Standing, error) {
	out := make([]domain.Standing, 0, domain.ClampN(n))
	for standing, err := range s.TopN(ctx, n) {
		if err != nil {
			return nil, err
		}
		out = append(out, standing)
	}
	return out, nil
}
