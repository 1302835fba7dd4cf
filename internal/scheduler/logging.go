package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/cashback/internal/observability/context"
	obslogger "github.com/smallbiznis/cashback/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a task between lock acquire and release.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	result    JobResult
	failed    bool
}

func (s *Scheduler) startJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithRequestID(ctx, run.runID)
	s.logger(ctx).Info("scheduler.job.start", zap.String("job", job), zap.String("run_id", run.runID))
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// finish records the task outcome on the run and logs it. Item failures or a
// returned error log at warn.
func (s *Scheduler) finish(ctx context.Context, run *jobRun, result JobResult, duration time.Duration, err error) {
	run.result = result
	run.failed = err != nil || result.Failed > 0

	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("processed_count", result.Processed),
		zap.Int("failed_count", result.Failed),
	}
	for outcome, n := range result.Counts {
		fields = append(fields, zap.Int("items_"+outcome, n))
	}

	if run.failed {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, err error) {
	if err == nil || run == nil {
		return
	}
	s.logger(ctx).Error("scheduler.job.failed",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
