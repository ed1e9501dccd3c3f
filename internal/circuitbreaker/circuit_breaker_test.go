package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 200 * time.Millisecond

	cb := NewCircuitBreaker("state-redis", config, logger)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("expected initial state closed, got %s", cb.State())
	}

	// Successes keep the breaker closed.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("expected success, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successes, got %s", cb.State())
	}

	// Hitting the failure threshold opens it.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("redis down") }); err == nil {
			t.Error("expected failure to propagate")
		}
	}
	if cb.State() != StateOpen {
		t.Errorf("expected open after threshold, got %s", cb.State())
	}

	// Open breaker refuses without running fn.
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrCircuitBreakerOpen {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}

	// Cooldown moves it to half-open on the next evaluation.
	time.Sleep(150 * time.Millisecond)
	cb.beforeRequest()
	if cb.State() != StateHalfOpen {
		t.Errorf("expected half-open after cooldown, got %s", cb.State())
	}

	// SuccessThreshold consecutive successes close it again.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("expected success in half-open, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after recovery, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenRequestCap(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.MaxRequests = 2
	config.Timeout = 100 * time.Millisecond
	config.SuccessThreshold = 5 // keep it in half-open for the whole test

	cb := NewCircuitBreaker("postgresql", config, logger)
	ctx := context.Background()

	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.generation++
	cb.counts = Counts{}
	cb.mutex.Unlock()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("expected success, got %v", err)
		}
	}

	if err := cb.Execute(ctx, func() error { return nil }); err != ErrTooManyRequests {
		t.Errorf("expected ErrTooManyRequests, got %v", err)
	}
}

func TestCircuitBreakerCounts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := NewCircuitBreaker("llm-service", DefaultConfig(), logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errors.New("http 503") })
	cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	if counts.Requests != 3 {
		t.Errorf("expected 3 requests, got %d", counts.Requests)
	}
	if counts.TotalSuccesses != 2 {
		t.Errorf("expected 2 successes, got %d", counts.TotalSuccesses)
	}
	if counts.TotalFailures != 1 {
		t.Errorf("expected 1 failure, got %d", counts.TotalFailures)
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 2

	var gotFrom, gotTo State
	called := false
	config.OnStateChange = func(name string, from State, to State) {
		called = true
		gotFrom = from
		gotTo = to
	}

	cb := NewCircuitBreaker("state-redis", config, logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, func() error { return errors.New("redis down") })
	}

	if !called {
		t.Fatal("expected state change callback")
	}
	if gotFrom != StateClosed || gotTo != StateOpen {
		t.Errorf("expected closed->open, got %s->%s", gotFrom, gotTo)
	}
}

func TestCircuitBreakerPanicCountsAsFailure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	cb := NewCircuitBreaker("state-redis", config, logger)

	func() {
		defer func() { recover() }()
		cb.Execute(context.Background(), func() error { panic("boom") })
	}()

	if cb.State() != StateOpen {
		t.Errorf("expected panic to open the breaker, got %s", cb.State())
	}
}
