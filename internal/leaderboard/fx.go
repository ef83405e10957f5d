package leaderboard

import (
	"github.com/smallbiznis/loyalty/internal/leaderboard/repository"
	"github.com/smallbiznis/loyalty/internal/leaderboard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("leaderboard.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
