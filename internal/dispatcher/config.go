package dispatcher

import (
	"time"

	"cloudagent/pkg/backoff"
)

// Config holds configuration for the dispatcher.
type Config struct {
	URL         string        // callback URL
	Key         string        // HMAC signing key, empty disables signing
	BufferSize  int           // pending events buffer (default: 64)
	Workers     int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	MaxRetries  int           // retries after the first attempt (default: 3, negative disables)
	Backoff     backoff.Config
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = 100 * time.Millisecond
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 5 * time.Second
	}
	return c
}
