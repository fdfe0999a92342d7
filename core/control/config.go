package control

import (
	"fmt"
	"time"
)

// Config defines the control loop settings.
type Config struct {
	// Devices lists the device identifiers polled every cycle.
	Devices []string `json:"devices"`
	// IntervalSeconds is the time between two cycle starts.
	IntervalSeconds int `json:"interval_seconds"`
	// CycleTimeoutSeconds bounds a single cycle. It never exceeds the
	// interval.
	CycleTimeoutSeconds int `json:"cycle_timeout_seconds"`
	// MaxParallel bounds the concurrent status reads.
	MaxParallel int `json:"max_parallel"`
	// DryRun computes decisions without commanding devices.
	DryRun bool `json:"dry_run"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 60
	}
	if c.CycleTimeoutSeconds <= 0 || c.CycleTimeoutSeconds > c.IntervalSeconds {
		c.CycleTimeoutSeconds = c.IntervalSeconds
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
}

// Validate checks the device list.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Devices))
	for _, id := range c.Devices {
		if id == "" {
			return fmt.Errorf("control.devices: empty device id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("control.devices: duplicate device %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Interval returns the cycle period.
func (c Config) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

// CycleTimeout returns the per-cycle deadline.
func (c Config) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSeconds) * time.Second
}
