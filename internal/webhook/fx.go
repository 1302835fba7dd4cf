package webhook

import (
	"github.com/smallbiznis/cashback/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(service.NewAuthenticator),
	fx.Provide(service.NewIdempotencyStore),
)
