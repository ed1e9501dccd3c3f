package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exponentialConfig() Config {
	return Config{
		Strategy:        StrategyExponentialBackoff,
		MaxRetries:      3,
		BaseDelay:       2 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

func TestExponentialShouldRetry(t *testing.T) {
	s := NewExponentialBackoffStrategy(exponentialConfig())
	err := errors.New("connection refused")

	retryable := []FailureType{
		FailureNetwork, FailureTimeout, FailureRateLimit, FailureAIService,
		FailureDatabase, FailureMemory, FailureUnknown,
	}
	for _, ft := range retryable {
		for attempt := 0; attempt < 3; attempt++ {
			assert.True(t, s.ShouldRetry(attempt, ft, err),
				"attempt %d of %s should retry", attempt, ft)
		}
		assert.False(t, s.ShouldRetry(3, ft, err),
			"%s at max retries should not retry", ft)
		assert.False(t, s.ShouldRetry(7, ft, err))
	}

	// Validation errors never retry, regardless of attempt number.
	for _, attempt := range []int{0, 1, 2, 10} {
		assert.False(t, s.ShouldRetry(attempt, FailureValidation, err))
	}
}

func TestExponentialRateLimitDelayDominates(t *testing.T) {
	s := NewExponentialBackoffStrategy(exponentialConfig())

	// Jitter bands are 50-100% of the computed value, and rate limits
	// double the pre-jitter value, so even the unluckiest rate-limit
	// sample is at least the luckiest network sample.
	for attempt := 0; attempt < 4; attempt++ {
		for i := 0; i < 50; i++ {
			rl := s.Delay(attempt, FailureRateLimit)
			network := s.Delay(attempt, FailureNetwork)
			assert.GreaterOrEqual(t, rl, network,
				"attempt %d: rate limit delay must dominate", attempt)
			assert.LessOrEqual(t, rl, s.cfg.MaxDelay)
			assert.LessOrEqual(t, network, s.cfg.MaxDelay)
		}
	}
}

func TestExponentialDelayGrowth(t *testing.T) {
	cfg := exponentialConfig()
	cfg.Jitter = false
	s := NewExponentialBackoffStrategy(cfg)

	assert.Equal(t, 2*time.Second, s.Delay(0, FailureNetwork))
	assert.Equal(t, 4*time.Second, s.Delay(1, FailureNetwork))
	assert.Equal(t, 8*time.Second, s.Delay(2, FailureNetwork))
	// Capped at max_delay once growth overshoots.
	assert.Equal(t, 60*time.Second, s.Delay(10, FailureNetwork))
}

func TestFailureTypeAllowSet(t *testing.T) {
	cfg := exponentialConfig()
	cfg.FailureTypes = []FailureType{FailureNetwork, FailureTimeout}
	s := NewExponentialBackoffStrategy(cfg)
	err := errors.New("boom")

	assert.True(t, s.ShouldRetry(0, FailureNetwork, err))
	assert.True(t, s.ShouldRetry(0, FailureTimeout, err))
	assert.False(t, s.ShouldRetry(0, FailureDatabase, err),
		"types outside the allow-set are refused")
}

func TestAttemptLog(t *testing.T) {
	s := NewExponentialBackoffStrategy(exponentialConfig())
	require.Empty(t, s.Attempts())

	s.RecordAttempt(Attempt{AttemptNumber: 0, FailureType: FailureNetwork})
	s.RecordAttempt(Attempt{AttemptNumber: 1, FailureType: FailureNetwork})

	got := s.Attempts()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].AttemptNumber)

	// The returned slice is a copy; mutating it does not touch the log.
	got[0].AttemptNumber = 99
	assert.Equal(t, 0, s.Attempts()[0].AttemptNumber)
}
