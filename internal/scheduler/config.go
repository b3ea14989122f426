package scheduler

import (
	"time"
)

// Config controls the scheduler run loop and job batch sizes.
type Config struct {
	TickInterval     time.Duration
	BatchSize        int
	JobTimeout       time.Duration
	ReminderWindows  []int
	RetryLookback    time.Duration
	StartImmediately bool
}

func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Minute,
		BatchSize:        100,
		JobTimeout:       30 * time.Second,
		ReminderWindows:  []int{7, 3, 1},
		RetryLookback:    3 * 24 * time.Hour,
		StartImmediately: true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if len(c.ReminderWindows) == 0 {
		c.ReminderWindows = defaults.ReminderWindows
	}
	if c.RetryLookback <= 0 {
		c.RetryLookback = defaults.RetryLookback
	}
	return c
}
