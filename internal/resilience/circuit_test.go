package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clk := clock.NewMock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		Clock:            clk,
	})

	if err := cb.Allow(); err != nil {
		t.Fatalf("closed circuit should allow: %v", err)
	}
	cb.Record(errors.New("fail"))
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after 1 failure, got %s", cb.State())
	}
	cb.Record(errors.New("fail"))
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 2 failures, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clk := clock.NewMock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		Clock:            clk,
	})
	cb.Record(errors.New("fail"))

	clk.Add(2 * time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open should allow a probe: %v", err)
	}
	cb.Record(nil)
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock()
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		Clock:            clk,
		OnStateChange: func(_, to CircuitState) {
			transitions = append(transitions, to)
		},
	})
	cb.Record(errors.New("fail"))
	clk.Add(2 * time.Minute)
	_ = cb.Allow()
	cb.Record(errors.New("still failing"))

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after failed probe, got %s", cb.State())
	}
	want := []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitOpen}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v transitions, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	cb.Record(errors.New("fail"))
	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(7, 10)
	if cfg.FailureThreshold != 7 {
		t.Errorf("expected threshold 7, got %d", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.ResetTimeout)
	}
}
