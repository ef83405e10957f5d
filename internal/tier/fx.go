package tier

import (
	"github.com/smallbiznis/loyalty/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.service",
	fx.Provide(service.NewTableHolder),
	fx.Provide(service.New),
)
