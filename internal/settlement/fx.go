package settlement

import (
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/scheduler"
	settlementdomain "github.com/smallbiznis/cashback/internal/settlement/domain"
	"github.com/smallbiznis/cashback/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(service.New),
	fx.Invoke(registerTasks),
)

func registerTasks(sched *scheduler.Scheduler, svc settlementdomain.Service, cfg config.Config) error {
	for _, task := range service.Tasks(svc, cfg.Settlement) {
		if err := sched.Register(task); err != nil {
			return err
		}
	}
	return nil
}
