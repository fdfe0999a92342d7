package marstek

import (
	"fmt"
	"time"
)

// DefaultPort is the UDP port Venus devices listen on.
const DefaultPort = 30000

// Config configures the UDP transport.
type Config struct {
	// Port is used for device ids that carry no explicit port.
	Port int `json:"port"`
	// LocalPort binds the local socket. Some firmwares only answer to port
	// 30000; zero picks an ephemeral port.
	LocalPort int `json:"local_port"`
	// TimeoutMillis is how long one send waits for a reply.
	TimeoutMillis int `json:"timeout_ms"`
	// Retries is the number of resends within one attempt. A negative value
	// disables resends.
	Retries int `json:"retries"`
	// Attempts is the number of whole-request attempts.
	Attempts int `json:"attempts"`
	// RetryDelayMillis is the pause after the first failed attempt. It doubles
	// for each further attempt.
	RetryDelayMillis int `json:"retry_delay_ms"`
}

// SetDefaults fills zero values with the protocol defaults.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.TimeoutMillis <= 0 {
		c.TimeoutMillis = 1500
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryDelayMillis <= 0 {
		c.RetryDelayMillis = 1500
	}
}

// Validate checks port ranges.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("marstek.port out of range: %d", c.Port)
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("marstek.local_port out of range: %d", c.LocalPort)
	}
	return nil
}

func (c Config) timeout() time.Duration    { return time.Duration(c.TimeoutMillis) * time.Millisecond }
func (c Config) retryDelay() time.Duration { return time.Duration(c.RetryDelayMillis) * time.Millisecond }
