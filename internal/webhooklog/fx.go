package webhooklog

import (
	"github.com/smallbiznis/cashback/internal/webhooklog/repository"
	"github.com/smallbiznis/cashback/internal/webhooklog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhooklog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
