package retry

import (
	"sync"
	"time"
)

// CircuitBreakerStrategy refuses every retry while its circuit is open.
// The circuit opens once the recorded failure count reaches the configured
// threshold and resets after the configured timeout has elapsed since the
// last failure: half-open-on-timeout, with the failure count zeroed and no
// probe request. Distinct from the transport-level breaker in
// internal/circuitbreaker, which guards client calls rather than retry
// policy.
type CircuitBreakerStrategy struct {
	attemptLog
	cfg Config

	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	circuitOpen     bool
	now             func() time.Time
}

func NewCircuitBreakerStrategy(cfg Config) *CircuitBreakerStrategy {
	return &CircuitBreakerStrategy{cfg: cfg, now: time.Now}
}

func (s *CircuitBreakerStrategy) Kind() StrategyKind { return StrategyCircuitBreaker }

func (s *CircuitBreakerStrategy) ShouldRetry(attempt int, ft FailureType, err error) bool {
	s.mu.Lock()
	if s.circuitOpen {
		if s.now().Sub(s.lastFailureTime) >= s.cfg.CircuitBreakerTimeout {
			s.failureCount = 0
			s.circuitOpen = false
		} else {
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()

	return !refuse(s.cfg, attempt, ft)
}

// Delay grows linearly: base * (attempt + 1), jittered to 80-120%.
func (s *CircuitBreakerStrategy) Delay(attempt int, ft FailureType) time.Duration {
	d := s.cfg.BaseDelay * time.Duration(attempt+1)
	d = jitter(d, 0.8, 1.2, s.cfg.Jitter)
	return capDelay(d, s.cfg.MaxDelay)
}

func (s *CircuitBreakerStrategy) RecordFailure(ft FailureType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	s.lastFailureTime = s.now()
	if s.cfg.CircuitBreakerThreshold > 0 && s.failureCount >= s.cfg.CircuitBreakerThreshold {
		s.circuitOpen = true
	}
}

// RecordSuccess closes the circuit and clears the failure count. A success
// is proof the dependency recovered.
func (s *CircuitBreakerStrategy) RecordSuccess(ft FailureType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
	s.circuitOpen = false
}

// State reports the current circuit state for introspection and metrics.
func (s *CircuitBreakerStrategy) State() (open bool, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuitOpen, s.failureCount
}
