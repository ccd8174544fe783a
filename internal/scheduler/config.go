package scheduler

import (
	"time"

	"github.com/smallbiznis/kitchenbill/internal/config"
)

// Config controls scan intervals, timeouts and which jobs run.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
	// EnabledJobs limits the run to the named jobs. Empty runs all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 5 * time.Minute,
		JobTimeout:  30 * time.Second,
		LockTTL:     time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: time.Duration(cfg.SchedulerIntervalSec) * time.Second,
		EnabledJobs: cfg.SchedulerJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}
