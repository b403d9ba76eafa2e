package config

import "time"

// TimeoutConfig contains the timers driving the worker and the process
// lifecycle.
type TimeoutConfig struct {
	// Worker timers
	RetryInterval       time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	RebroadcastInterval time.Duration `mapstructure:"rebroadcast_interval" yaml:"rebroadcast_interval"`
	BackfillTimeout     time.Duration `mapstructure:"backfill_timeout" yaml:"backfill_timeout"`

	// Persistence backoff
	PersistInitialInterval time.Duration `mapstructure:"persist_initial_interval" yaml:"persist_initial_interval"`
	PersistMaxInterval     time.Duration `mapstructure:"persist_max_interval" yaml:"persist_max_interval"`

	// Process
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
}

// DefaultTimeoutConfig returns default timeout configurations
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		RetryInterval:       2 * time.Second,
		RebroadcastInterval: 10 * time.Second,
		BackfillTimeout:     5 * time.Second,

		PersistInitialInterval: 100 * time.Millisecond,
		PersistMaxInterval:     10 * time.Second,

		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (c *TimeoutConfig) normalize() {
	def := DefaultTimeoutConfig()
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.RebroadcastInterval <= 0 {
		c.RebroadcastInterval = def.RebroadcastInterval
	}
	if c.BackfillTimeout <= 0 {
		c.BackfillTimeout = def.BackfillTimeout
	}
	if c.PersistInitialInterval <= 0 {
		c.PersistInitialInterval = def.PersistInitialInterval
	}
	if c.PersistMaxInterval <= 0 {
		c.PersistMaxInterval = def.PersistMaxInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
}
