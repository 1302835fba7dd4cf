package scheduler

import (
	"time"

	"github.com/smallbiznis/cashback/internal/config"
)

// Config controls the runner. Per-job schedules live on each Task.
type Config struct {
	Enabled        bool
	DefaultLockTTL time.Duration
	PushTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		DefaultLockTTL: 10 * time.Minute,
		PushTimeout:    5 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.Enabled = cfg.Settlement.SchedulerEnabled
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.DefaultLockTTL <= 0 {
		c.DefaultLockTTL = defaults.DefaultLockTTL
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = defaults.PushTimeout
	}
	return c
}
