package scheduler

import (
	"context"

	"github.com/smallbiznis/cashback/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(provideLocker),
	fx.Provide(New),
)

func provideLocker(l *ratelimit.Locker) Locker {
	return l
}

// RunForever starts the cron loop with the application and stops it on
// shutdown. Apps that only trigger jobs manually skip this invoke.
var RunForever = fx.Invoke(func(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
})
