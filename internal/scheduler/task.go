package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// JobResult is what a task reports back for one run. Counts are keyed by
// item outcome and feed the scheduler item metrics.
type JobResult struct {
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Counts    map[string]int `json:"counts,omitempty"`
}

// Add bumps the count for outcome.
func (r *JobResult) Add(outcome string, n int) {
	if n <= 0 {
		return
	}
	if r.Counts == nil {
		r.Counts = map[string]int{}
	}
	r.Counts[outcome] += n
}

// Task is one lock-guarded periodic job.
type Task struct {
	Name     string
	LockName string
	LockTTL  time.Duration
	// Schedule is a five-field cron expression or a descriptor such as
	// "@hourly" or "@every 10m".
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) (JobResult, error)
}

// Locker is the cluster-wide mutual exclusion used around every run.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool)
	Release(ctx context.Context, name, token string) (bool, error)
}

var (
	ErrInvalidConfig   = errors.New("invalid_scheduler_config")
	ErrInvalidTask     = errors.New("invalid_scheduler_task")
	ErrInvalidSchedule = errors.New("invalid_job_schedule")
	ErrDuplicateTask   = errors.New("duplicate_scheduler_task")
	ErrUnknownJob      = errors.New("unknown_job")
	ErrJobLocked       = errors.New("job_already_running")
)

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type registeredTask struct {
	Task
	schedule cron.Schedule
}

func (t Task) normalize(defaultTTL time.Duration) (registeredTask, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" || t.Run == nil {
		return registeredTask{}, ErrInvalidTask
	}
	if strings.TrimSpace(t.LockName) == "" {
		t.LockName = t.Name
	}
	if t.LockTTL <= 0 {
		t.LockTTL = defaultTTL
	}
	if t.Timeout <= 0 || t.Timeout > t.LockTTL {
		t.Timeout = t.LockTTL
	}

	schedule, err := scheduleParser.Parse(strings.TrimSpace(t.Schedule))
	if err != nil {
		return registeredTask{}, errors.Join(ErrInvalidSchedule, err)
	}
	return registeredTask{Task: t, schedule: schedule}, nil
}
