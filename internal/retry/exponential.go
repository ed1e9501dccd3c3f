package retry

import (
	"math"
	"time"
)

// ExponentialBackoffStrategy grows the delay geometrically with the attempt
// number. Rate-limit failures get their computed delay doubled on top of
// the exponential growth, since throttling vendors want a longer cool-off
// than a flaky connection does.
type ExponentialBackoffStrategy struct {
	attemptLog
	cfg Config
}

func NewExponentialBackoffStrategy(cfg Config) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{cfg: cfg}
}

func (s *ExponentialBackoffStrategy) Kind() StrategyKind { return StrategyExponentialBackoff }

func (s *ExponentialBackoffStrategy) ShouldRetry(attempt int, ft FailureType, err error) bool {
	return !refuse(s.cfg, attempt, ft)
}

// Delay is base * exponentialBase^attempt, doubled for rate limits,
// jittered to 50-100% of the computed value, then capped.
func (s *ExponentialBackoffStrategy) Delay(attempt int, ft FailureType) time.Duration {
	base := s.cfg.ExponentialBase
	if base <= 0 {
		base = 2.0
	}
	d := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(base, float64(attempt)))
	if ft == FailureRateLimit {
		d *= 2
	}
	d = jitter(d, 0.5, 1.0, s.cfg.Jitter)
	return capDelay(d, s.cfg.MaxDelay)
}

// RecordFailure is a no-op: exponential backoff carries no cross-attempt
// state beyond the attempt log.
func (s *ExponentialBackoffStrategy) RecordFailure(ft FailureType) {}

func (s *ExponentialBackoffStrategy) RecordSuccess(ft FailureType) {}
