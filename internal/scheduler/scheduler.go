package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/cashback/internal/clock"
	obsmetrics "github.com/smallbiznis/cashback/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Locker Locker
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config Config              `optional:"true"`
	Pusher obsmetrics.Pusher   `optional:"true"`
	Gather prometheus.Gatherer `optional:"true"`
}

// RunReport describes one completed run of a task.
type RunReport struct {
	Job        string    `json:"job"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	TimedOut   bool      `json:"timed_out"`
	Result     JobResult `json:"result"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	locker  Locker
	genID   *snowflake.Node
	clock   clock.Clock
	pusher  obsmetrics.Pusher
	gather  prometheus.Gatherer
	metrics *obsmetrics.SchedulerMetrics

	mu      sync.Mutex
	tasks   map[string]registeredTask
	cron    *cron.Cron
	entries map[string]cron.EntryID
	cancel  context.CancelFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Locker == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	gather := p.Gather
	if gather == nil {
		gather = prometheus.DefaultGatherer
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		locker:  p.Locker,
		genID:   p.GenID,
		clock:   p.Clock,
		pusher:  p.Pusher,
		gather:  gather,
		metrics: obsmetrics.Scheduler(),
		tasks:   map[string]registeredTask{},
		entries: map[string]cron.EntryID{},
	}, nil
}

// Register adds a task. Tasks registered after Start are picked up on the
// next Start.
func (s *Scheduler) Register(task Task) error {
	rt, err := task.normalize(s.cfg.DefaultLockTTL)
	if err != nil {
		return fmt.Errorf("register %q: %w", task.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[rt.Name]; exists {
		return fmt.Errorf("register %q: %w", rt.Name, ErrDuplicateTask)
	}
	s.tasks[rt.Name] = rt
	return nil
}

// Jobs lists registered task names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce runs the named task immediately under its lock. ErrJobLocked is
// returned when another run holds the lock or the lock backend is down.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (RunReport, error) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return RunReport{}, ErrUnknownJob
	}
	return s.runTask(ctx, task, time.Time{})
}

// Start schedules every registered task. Each instance fires every task;
// the job lock keeps runs serialized across instances.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	for name, task := range s.tasks {
		task := task
		var id cron.EntryID
		id = c.Schedule(task.schedule, cron.FuncJob(func() {
			s.fire(ctx, task, c.Entry(id).Prev)
		}))
		s.entries[name] = id
		s.log.Info("scheduler.job.registered",
			zap.String("job", name),
			zap.String("schedule", task.Schedule),
			zap.Duration("lock_ttl", task.LockTTL),
			zap.Duration("timeout", task.Timeout),
		)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight runs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) fire(ctx context.Context, task registeredTask, scheduledAt time.Time) {
	_, err := s.runTask(ctx, task, scheduledAt)
	switch {
	case err == nil, errors.Is(err, ErrJobLocked):
	default:
		s.log.Warn("scheduler run failed", zap.String("job", task.Name), zap.Error(err))
	}
}

func (s *Scheduler) runTask(parent context.Context, task registeredTask, scheduledAt time.Time) (RunReport, error) {
	if !scheduledAt.IsZero() {
		s.metrics.ObserveRunLoopLag(task.Name, s.clock.Now().Sub(scheduledAt))
	}

	token, ok := s.locker.Acquire(parent, task.LockName, task.LockTTL)
	if !ok {
		s.metrics.IncLockAttempt(task.Name, obsmetrics.LockOutcomeHeld)
		s.log.Debug("scheduler.job.skipped", zap.String("job", task.Name), zap.String("reason", "lock_not_acquired"))
		return RunReport{}, ErrJobLocked
	}
	s.metrics.IncLockAttempt(task.Name, obsmetrics.LockOutcomeAcquired)
	defer s.releaseLock(task, token)

	report, err := s.runJob(parent, task)
	s.push(task.Name)
	return report, err
}

func (s *Scheduler) runJob(parent context.Context, task registeredTask) (RunReport, error) {
	ctx, cancel := context.WithTimeout(parent, task.Timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, task.Name)
	s.metrics.IncJobRun(task.Name)

	result, err := task.Run(ctx)
	duration := s.clock.Now().Sub(run.startedAt)
	s.metrics.ObserveJobDuration(task.Name, duration)
	for outcome, count := range result.Counts {
		s.metrics.AddItems(task.Name, outcome, count)
	}
	s.finish(ctx, run, result, duration, err)

	report := RunReport{
		Job:        task.Name,
		RunID:      run.runID,
		StartedAt:  run.startedAt,
		DurationMS: duration.Milliseconds(),
		Result:     result,
	}
	if err == nil {
		s.metrics.MarkSuccess(task.Name, s.clock.Now())
		return report, nil
	}

	// deadline is a soft timeout: the partial result stands
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(task.Name)
	}
	s.metrics.IncJobError(task.Name, err)
	if isTimeout {
		report.TimedOut = true
		s.logger(ctx).Warn("job timed out",
			zap.String("job", task.Name),
			zap.Duration("timeout", task.Timeout),
			zap.Error(err),
		)
		return report, nil
	}
	s.logJobError(ctx, run, err)
	return report, fmt.Errorf("%s: %w", task.Name, err)
}

func (s *Scheduler) releaseLock(task registeredTask, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	released, err := s.locker.Release(ctx, task.LockName, token)
	if err != nil {
		s.log.Warn("scheduler lock release failed", zap.String("job", task.Name), zap.Error(err))
		return
	}
	if !released {
		s.log.Warn("scheduler lock lost before release", zap.String("job", task.Name))
	}
}

func (s *Scheduler) push(job string) {
	if s.pusher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PushTimeout)
	defer cancel()
	if err := s.pusher.Push(ctx, s.gather); err != nil {
		s.log.Warn("scheduler metrics push failed", zap.String("job", job), zap.Error(err))
	}
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron."+msg, append(keysAndValues, "error", err)...)
}
