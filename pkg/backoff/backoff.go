// Package backoff provides exponential interval calculation for polling loops.
package backoff

import (
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 1s
	Max     time.Duration // default: 30s
	Factor  float64       // default: 2
}

func (c *Config) values() (initial, maxInterval time.Duration, factor float64) {
	initial, maxInterval, factor = time.Second, 30*time.Second, 2.0
	if c == nil {
		return initial, maxInterval, factor
	}
	if c.Initial > 0 {
		initial = c.Initial
	}
	if c.Max > 0 {
		maxInterval = c.Max
	}
	if c.Factor > 1 {
		factor = c.Factor
	}
	return initial, maxInterval, factor
}

// Exponential calculates the wait before a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*factor, etc., capped at max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxInterval, factor := cfg.values()
	if attempt < 1 {
		return min(initial, maxInterval)
	}
	wait := float64(initial) * math.Pow(factor, float64(attempt-1))
	if wait > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(wait)
}
