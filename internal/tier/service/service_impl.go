package service

import (
	"github.com/smallbiznis/loyalty/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Holder *TableHolder
}

type Service struct {
	log    *zap.Logger
	holder *TableHolder
}

func New(p Params) domain.Service {
	return &Service{
		log:    p.Log.Named("tier.service"),
		holder: p.Holder,
	}
}

func (s *Service) Resolve(lifetimeEarned int64) domain.Definition {
	return s.holder.Get().Resolve(lifetimeEarned)
}

func (s *Service) Progress(lifetimeEarned int64) domain.Progress {
	// one table read so a concurrent reload cannot mix two tables
	table := s.holder.Get()
	progress := domain.Progress{Current: table.Resolve(lifetimeEarned)}
	if next, missing, ok := table.Next(lifetimeEarned); ok {
		progress.Next = &next
		progress.PointsToNext = missing
	}
	return progress
}

func (s *Service) List() []domain.Definition {
	return s.holder.Get().Definitions()
}
