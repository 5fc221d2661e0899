package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTransfer = errors.New("transfer failed")

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestHosts_DefaultThreshold(t *testing.T) {
	t.Parallel()
	h := NewHosts(Config{})

	for i := 0; i < 4; i++ {
		h.Record("storage", errTransfer)
	}
	if h.State("storage") != Closed {
		t.Error("Expected closed state after 4 failures (default threshold is 5)")
	}

	h.Record("storage", errTransfer)
	if h.State("storage") != Open {
		t.Error("Expected open state after 5 failures")
	}
	if !errors.Is(h.Allow("storage"), ErrOpen) {
		t.Error("Expected ErrOpen once the circuit is open")
	}
}

func TestHosts_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	h := NewHosts(Config{Threshold: 2})

	h.Record("storage", errTransfer)
	h.Record("storage", nil)
	h.Record("storage", errTransfer)

	if h.State("storage") != Closed {
		t.Error("Expected non-consecutive failures to keep the circuit closed")
	}
}

func TestHosts_IsolatedPerHost(t *testing.T) {
	t.Parallel()
	h := NewHosts(Config{Threshold: 1})

	h.Record("a.example.com", errTransfer)

	if h.Allow("a.example.com") == nil {
		t.Error("Expected a.example.com to be blocked")
	}
	if err := h.Allow("b.example.com"); err != nil {
		t.Errorf("Expected b.example.com to be allowed, got %v", err)
	}
	if h.OpenHosts() != 1 {
		t.Errorf("Expected 1 open host, got %d", h.OpenHosts())
	}
}

func TestHosts_HalfOpenProbe(t *testing.T) {
	t.Parallel()
	h := NewHosts(Config{Threshold: 1, Cooldown: time.Minute})
	now := time.Now()
	h.now = func() time.Time { return now }

	h.Record("storage", errTransfer)
	if h.Allow("storage") == nil {
		t.Fatal("Expected blocked before cooldown")
	}

	now = now.Add(2 * time.Minute)
	if err := h.Allow("storage"); err != nil {
		t.Fatalf("Expected probe after cooldown, got %v", err)
	}
	if h.Allow("storage") == nil {
		t.Error("Expected only one probe while half-open")
	}

	h.Record("storage", nil)
	if h.State("storage") != Closed {
		t.Error("Expected successful probe to close the circuit")
	}
}

func TestHosts_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	h := NewHosts(Config{Threshold: 3, Cooldown: time.Minute})
	now := time.Now()
	h.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		h.Record("storage", errTransfer)
	}
	now = now.Add(2 * time.Minute)
	if err := h.Allow("storage"); err != nil {
		t.Fatalf("Expected probe, got %v", err)
	}

	h.Record("storage", errTransfer)
	if h.State("storage") != Open {
		t.Error("Expected failed probe to reopen the circuit")
	}
}

func TestHosts_Concurrent(t *testing.T) {
	t.Parallel()
	h := NewHosts(Config{Threshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = h.Allow("storage")
				h.Record("storage", errTransfer)
			}
		}()
	}
	wg.Wait()

	if h.State("storage") != Closed {
		t.Error("Expected closed state below threshold")
	}
}
