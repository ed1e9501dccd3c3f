package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Strategy decides whether a failed attempt is retried and how long to wait
// before the next one. Implementations keep their own runtime state
// (failure history, circuit state) and their own append-only attempt log;
// both are process-local for the lifetime of the worker.
type Strategy interface {
	// ShouldRetry reports whether attempt number attempt (0-based) may be
	// retried for the given failure type.
	ShouldRetry(attempt int, ft FailureType, err error) bool
	// Delay computes the wait before the next attempt, jittered and capped.
	Delay(attempt int, ft FailureType) time.Duration
	// RecordFailure feeds the strategy's state machine before a decision.
	RecordFailure(ft FailureType)
	// RecordSuccess reports a success that followed at least one retry of
	// the given failure type.
	RecordSuccess(ft FailureType)
	// RecordAttempt appends to the strategy-owned attempt log.
	RecordAttempt(a Attempt)
	// Attempts returns a copy of the attempt log.
	Attempts() []Attempt
	// Kind identifies the strategy implementation.
	Kind() StrategyKind
}

// refuse applies the guards shared by every strategy: validation errors are
// never retried, the per-config attempt ceiling is absolute, and a non-empty
// allow-set excludes everything outside it.
func refuse(cfg Config, attempt int, ft FailureType) bool {
	if ft == FailureValidation {
		return true
	}
	if attempt >= cfg.MaxRetries {
		return true
	}
	if len(cfg.FailureTypes) > 0 {
		allowed := false
		for _, t := range cfg.FailureTypes {
			if t == ft {
				allowed = true
				break
			}
		}
		if !allowed {
			return true
		}
	}
	return false
}

// jitter scales d by a uniform factor in [lo, hi]. Randomizing the delay
// keeps a fleet of workers that failed together from retrying together.
func jitter(d time.Duration, lo, hi float64, enabled bool) time.Duration {
	if !enabled || d <= 0 {
		return d
	}
	f := lo + rand.Float64()*(hi-lo)
	return time.Duration(float64(d) * f)
}

// capDelay bounds d to the configured maximum. Applied after jitter.
func capDelay(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// attemptLog is the shared append-only log embedded by each strategy.
type attemptLog struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (l *attemptLog) RecordAttempt(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
}

func (l *attemptLog) Attempts() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Attempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}
