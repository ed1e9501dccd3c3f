package retry

import (
	"time"
)

// FailureType is the closed classification set for retryable work.
// Values are recomputed per failure and never persisted.
type FailureType string

const (
	FailureNetwork    FailureType = "network_error"
	FailureTimeout    FailureType = "timeout"
	FailureRateLimit  FailureType = "rate_limit"
	FailureAIService  FailureType = "ai_service_error"
	FailureDatabase   FailureType = "database_error"
	FailureMemory     FailureType = "memory_error"
	FailureValidation FailureType = "validation_error"
	FailureUnknown    FailureType = "unknown_error"
)

// StrategyKind selects a retry strategy implementation.
type StrategyKind string

const (
	StrategyExponentialBackoff StrategyKind = "exponential_backoff"
	StrategyAdaptive           StrategyKind = "adaptive"
	StrategyCircuitBreaker     StrategyKind = "circuit_breaker"

	// Declared for config compatibility but intentionally unregistered.
	// The factory rejects these instead of substituting a default.
	StrategyFixedDelay    StrategyKind = "fixed_delay"
	StrategyLinearBackoff StrategyKind = "linear_backoff"
	StrategyNoRetry       StrategyKind = "no_retry"
)

// Config is the immutable retry policy for one agent type. Built once at
// startup and never mutated or hot-reloaded afterwards.
type Config struct {
	Strategy                StrategyKind
	MaxRetries              int
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	ExponentialBase         float64
	Jitter                  bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	// FailureTypes restricts retries to the listed types when non-empty.
	FailureTypes []FailureType
}

// Attempt is one append-only retry log record. The strategy instance that
// produced it owns the log for the lifetime of the worker process.
type Attempt struct {
	AttemptNumber   int           `json:"attempt_number"`
	FailureType     FailureType   `json:"failure_type"`
	ErrorMessage    string        `json:"error_message"`
	Timestamp       time.Time     `json:"timestamp"`
	DelayUsed       time.Duration `json:"delay_used"`
	StrategyApplied StrategyKind  `json:"strategy_applied"`
}

// Decision is the manager's answer for one failed attempt.
type Decision struct {
	ShouldRetry bool          `json:"should_retry"`
	Delay       time.Duration `json:"delay"`
	FailureType FailureType   `json:"failure_type"`
	Strategy    StrategyKind  `json:"strategy"`
	Fallback    bool          `json:"fallback,omitempty"`
}
