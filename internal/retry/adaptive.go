package retry

import (
	"math"
	"sync"
	"time"
)

const (
	// Rolling windows over the per-type failure history.
	adaptiveLongWindow  = 30 * time.Minute
	adaptiveShortWindow = 10 * time.Minute

	// More than this many failures in the long window halves the retry
	// budget for that type.
	adaptiveFloodThreshold = 10
	// More than this many failures in the short window doubles the base
	// delay.
	adaptiveSlowdownThreshold = 5

	// Below this historical retry-success ratio, retries stop after the
	// second attempt. The guard only engages once enough outcomes are
	// recorded to make the ratio meaningful.
	adaptiveMinSuccessRatio = 0.2
	adaptiveMinOutcomes     = 5
)

// AdaptiveRetryStrategy tunes its decisions from observed outcomes: a type
// that keeps failing gets fewer retries and longer delays, a type that
// recovers after retries keeps its full budget. All learning is local to
// the worker process that owns the strategy instance.
type AdaptiveRetryStrategy struct {
	attemptLog
	cfg Config

	mu                sync.Mutex
	failureHistory    map[FailureType][]time.Time
	successAfterRetry map[FailureType]int
	outcomes          map[FailureType]int
	now               func() time.Time
}

func NewAdaptiveRetryStrategy(cfg Config) *AdaptiveRetryStrategy {
	return &AdaptiveRetryStrategy{
		cfg:               cfg,
		failureHistory:    make(map[FailureType][]time.Time),
		successAfterRetry: make(map[FailureType]int),
		outcomes:          make(map[FailureType]int),
		now:               time.Now,
	}
}

func (s *AdaptiveRetryStrategy) Kind() StrategyKind { return StrategyAdaptive }

func (s *AdaptiveRetryStrategy) ShouldRetry(attempt int, ft FailureType, err error) bool {
	if refuse(s.cfg, attempt, ft) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A flood of this failure type means the dependency is down, not
	// flaky: halve the retry budget (floor, never below one attempt).
	if s.failuresSinceLocked(ft, adaptiveLongWindow) > adaptiveFloodThreshold {
		reduced := s.cfg.MaxRetries / 2
		if reduced < 1 {
			reduced = 1
		}
		if attempt >= reduced {
			return false
		}
	}

	// When retrying this type almost never helped, stop early.
	if n := s.outcomes[ft]; n >= adaptiveMinOutcomes {
		ratio := float64(s.successAfterRetry[ft]) / float64(n)
		if ratio < adaptiveMinSuccessRatio && attempt > 2 {
			return false
		}
	}

	return true
}

// Delay grows at 1.5^attempt over the base, doubles the base while the
// short window is saturated, and jitters to 70-130%.
func (s *AdaptiveRetryStrategy) Delay(attempt int, ft FailureType) time.Duration {
	base := s.cfg.BaseDelay

	s.mu.Lock()
	if s.failuresSinceLocked(ft, adaptiveShortWindow) > adaptiveSlowdownThreshold {
		base *= 2
	}
	s.mu.Unlock()

	d := time.Duration(float64(base) * math.Pow(1.5, float64(attempt)))
	d = jitter(d, 0.7, 1.3, s.cfg.Jitter)
	return capDelay(d, s.cfg.MaxDelay)
}

func (s *AdaptiveRetryStrategy) RecordFailure(ft FailureType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureHistory[ft] = append(s.failureHistory[ft], s.now())
	s.outcomes[ft]++
	s.pruneLocked(ft)
}

func (s *AdaptiveRetryStrategy) RecordSuccess(ft FailureType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successAfterRetry[ft]++
	s.outcomes[ft]++
}

// failuresSinceLocked counts failures of ft inside the trailing window.
// Caller holds mu.
func (s *AdaptiveRetryStrategy) failuresSinceLocked(ft FailureType, window time.Duration) int {
	cutoff := s.now().Add(-window)
	count := 0
	for _, ts := range s.failureHistory[ft] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// pruneLocked drops history older than the long window so the maps do not
// grow unbounded in a long-lived worker. Caller holds mu.
func (s *AdaptiveRetryStrategy) pruneLocked(ft FailureType) {
	cutoff := s.now().Add(-adaptiveLongWindow)
	history := s.failureHistory[ft]
	kept := history[:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.failureHistory[ft] = kept
}
