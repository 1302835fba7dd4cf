package brand

import (
	"github.com/smallbiznis/cashback/internal/brand/repository"
	"github.com/smallbiznis/cashback/internal/brand/service"
	"go.uber.org/fx"
)

var Module = fx.Module("brand.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
