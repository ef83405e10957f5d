package redemption

import (
	"github.com/smallbiznis/loyalty/internal/redemption/repository"
	"github.com/smallbiznis/loyalty/internal/redemption/service"
	"go.uber.org/fx"
)

var Module = fx.Module("redemption.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
