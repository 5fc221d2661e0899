// Package circuitbreaker implements a per-host circuit breaker.
//
// A breaker counts consecutive failures against one host. Once the threshold
// is reached the circuit opens and further work for that host fails fast with
// ErrOpen until the cooldown elapses, after which a single probe is let through.
//
// States:
//   - Closed: Normal operation, requests allowed
//   - Open: Too many failures, requests blocked
//   - HalfOpen: Cooldown elapsed, one probe allowed
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned for work rejected by an open circuit.
var ErrOpen = errors.New("circuit open: too many consecutive failures for host")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation, requests allowed
	Open                  // Failing, requests blocked
	HalfOpen              // Probe in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a breaker.
type Config struct {
	Threshold int           // Consecutive failures before the circuit opens (default: 5)
	Cooldown  time.Duration // Time before a probe is allowed (default: 30s)
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

type breaker struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Hosts tracks one breaker per host. Safe for concurrent use.
type Hosts struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*breaker
	now      func() time.Time
}

// NewHosts creates a breaker set. Zero config values use defaults.
func NewHosts(cfg Config) *Hosts {
	return &Hosts{
		config:   cfg.withDefaults(),
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

func (h *Hosts) get(host string) *breaker {
	b, ok := h.breakers[host]
	if !ok {
		b = &breaker{state: Closed}
		h.breakers[host] = b
	}
	return b
}

// Allow returns ErrOpen if work against host should not be attempted.
func (h *Hosts) Allow(host string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.get(host)
	switch b.state {
	case Open:
		if h.now().Sub(b.lastFailure) > h.config.Cooldown {
			b.state = HalfOpen
			return nil
		}
		return ErrOpen
	case HalfOpen:
		// Only the probe goes through
		return ErrOpen
	default:
		return nil
	}
}

// Record records the outcome of work against host.
func (h *Hosts) Record(host string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.get(host)
	if err == nil {
		b.failures = 0
		b.state = Closed
		return
	}

	b.failures++
	b.lastFailure = h.now()
	if b.state == HalfOpen || b.failures >= h.config.Threshold {
		b.state = Open
	}
}

// State returns the current state for host.
func (h *Hosts) State(host string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.get(host).state
}

// OpenHosts returns how many hosts currently have an open circuit.
func (h *Hosts) OpenHosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, b := range h.breakers {
		if b.state == Open {
			n++
		}
	}
	return n
}
