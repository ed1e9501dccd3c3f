package retry

import (
	"errors"
	"testing"
	"time"
)

func breakerConfig() Config {
	return Config{
		Strategy:                StrategyCircuitBreaker,
		MaxRetries:              5,
		BaseDelay:               3 * time.Second,
		MaxDelay:                time.Minute,
		Jitter:                  false,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   5 * time.Minute,
	}
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	s := NewCircuitBreakerStrategy(breakerConfig())
	err := errors.New("connection refused")

	// Below the threshold the breaker stays closed.
	s.RecordFailure(FailureNetwork)
	s.RecordFailure(FailureNetwork)
	if !s.ShouldRetry(2, FailureNetwork, err) {
		t.Error("expected retry while breaker is closed")
	}

	// The third recorded failure opens the circuit; attempts under
	// max_retries are refused all the same.
	s.RecordFailure(FailureNetwork)
	if s.ShouldRetry(2, FailureNetwork, err) {
		t.Error("expected refusal with circuit open")
	}
	if open, failures := s.State(); !open || failures != 3 {
		t.Errorf("expected open breaker with 3 failures, got open=%v failures=%d", open, failures)
	}
}

func TestCircuitResetsAfterTimeout(t *testing.T) {
	s := NewCircuitBreakerStrategy(breakerConfig())
	base := time.Now()
	s.now = func() time.Time { return base }
	err := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		s.RecordFailure(FailureNetwork)
	}
	if s.ShouldRetry(0, FailureNetwork, err) {
		t.Fatal("expected refusal with circuit open")
	}

	// One second short of the timeout: still open.
	s.now = func() time.Time { return base.Add(5*time.Minute - time.Second) }
	if s.ShouldRetry(0, FailureNetwork, err) {
		t.Error("expected refusal before the cooldown elapses")
	}

	// Past the timeout the circuit resets: failure count drops to zero
	// and evaluation reopens, no probe request involved.
	s.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	if !s.ShouldRetry(0, FailureNetwork, err) {
		t.Error("expected retry after the cooldown elapses")
	}
	if open, failures := s.State(); open || failures != 0 {
		t.Errorf("expected closed breaker with 0 failures, got open=%v failures=%d", open, failures)
	}
}

func TestCircuitSuccessCloses(t *testing.T) {
	s := NewCircuitBreakerStrategy(breakerConfig())
	for i := 0; i < 3; i++ {
		s.RecordFailure(FailureNetwork)
	}
	s.RecordSuccess(FailureNetwork)
	if open, failures := s.State(); open || failures != 0 {
		t.Errorf("success should close the breaker, got open=%v failures=%d", open, failures)
	}
}

func TestCircuitLinearDelay(t *testing.T) {
	s := NewCircuitBreakerStrategy(breakerConfig())
	for attempt, want := range []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second} {
		if got := s.Delay(attempt, FailureNetwork); got != want {
			t.Errorf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestCircuitValidationNeverRetries(t *testing.T) {
	s := NewCircuitBreakerStrategy(breakerConfig())
	if s.ShouldRetry(0, FailureValidation, errors.New("invalid input")) {
		t.Error("validation errors must never retry")
	}
}

func TestCircuitJitterBand(t *testing.T) {
	cfg := breakerConfig()
	cfg.Jitter = true
	s := NewCircuitBreakerStrategy(cfg)

	base := float64(3 * time.Second)
	for i := 0; i < 100; i++ {
		d := float64(s.Delay(0, FailureNetwork))
		if d < 0.8*base-1 || d > 1.2*base+1 {
			t.Fatalf("delay %v outside the 80-120%% jitter band", time.Duration(d))
		}
	}
}
