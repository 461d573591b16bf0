package scheduler

import (
	"time"

	"github.com/smallbiznis/voxbill/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval          time.Duration
	BatchSize            int
	DeliveryLogRetention time.Duration
	JobTimeout           time.Duration
	EnabledJobs          []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          5 * time.Minute,
		BatchSize:            500,
		DeliveryLogRetention: 30 * 24 * time.Hour,
		JobTimeout:           time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:          cfg.Scheduler.RunInterval,
		DeliveryLogRetention: cfg.Scheduler.DeliveryLogRetention,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.DeliveryLogRetention <= 0 {
		c.DeliveryLogRetention = defaults.DeliveryLogRetention
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
