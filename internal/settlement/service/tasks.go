package service

import (
	"context"

	"github.com/smallbiznis/cashback/internal/config"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	"github.com/smallbiznis/cashback/internal/scheduler"
	settlementdomain "github.com/smallbiznis/cashback/internal/settlement/domain"
)

// Tasks returns the settlement jobs with their configured schedules.
func Tasks(svc settlementdomain.Service, cfg config.SettlementConfig) []scheduler.Task {
	return []scheduler.Task{
		{
			Name:     settlementdomain.JobCreditPendingCashback,
			Schedule: cfg.CreditSchedule,
			LockTTL:  cfg.CreditLockTTL,
			Timeout:  cfg.CreditTimeout,
			Run: func(ctx context.Context) (scheduler.JobResult, error) {
				res, err := svc.CreditPendingCashback(ctx)
				out := scheduler.JobResult{Processed: res.Credited, Failed: res.Failed}
				out.Add(obsmetrics.ItemOutcomeCredited, res.Credited)
				out.Add(obsmetrics.ItemOutcomeFailed, res.Failed)
				out.Add(obsmetrics.ItemOutcomeSkipped, res.Skipped)
				out.Add(obsmetrics.ItemOutcomeReleased, res.Released)
				return out, err
			},
		},
		{
			Name:     settlementdomain.JobExpireClicks,
			Schedule: cfg.ExpireSchedule,
			LockTTL:  cfg.ExpireLockTTL,
			Timeout:  cfg.ExpireTimeout,
			Run: func(ctx context.Context) (scheduler.JobResult, error) {
				n, err := svc.ExpireClicks(ctx)
				out := scheduler.JobResult{Processed: int(n)}
				out.Add(obsmetrics.ItemOutcomeExpired, int(n))
				return out, err
			},
		},
		{
			Name:     settlementdomain.JobPurgeWebhookLogs,
			Schedule: cfg.PurgeSchedule,
			LockTTL:  cfg.PurgeLockTTL,
			Run: func(ctx context.Context) (scheduler.JobResult, error) {
				n, err := svc.PurgeWebhookLogs(ctx)
				out := scheduler.JobResult{Processed: int(n)}
				out.Add(obsmetrics.ItemOutcomePurged, int(n))
				return out, err
			},
		},
	}
}
