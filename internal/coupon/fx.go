package coupon

import (
	"github.com/smallbiznis/loyalty/internal/coupon/domain"
	"github.com/smallbiznis/loyalty/internal/coupon/repository"
	"github.com/smallbiznis/loyalty/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) domain.Issuer { return s }),
)
