package retry

import (
	"errors"
	"fmt"
)

// ErrUnsupportedStrategy is returned for strategy kinds that are declared
// in the enum but have no registered implementation. Configs naming them
// are rejected at construction time, never silently mapped to a default.
var ErrUnsupportedStrategy = errors.New("unsupported retry strategy")

// ErrInvalidConfig is returned when a config violates its invariants.
var ErrInvalidConfig = errors.New("invalid retry config")

// NewStrategy builds a strategy from a declarative config. Exhaustive over
// StrategyKind: fixed_delay, linear_backoff and no_retry are declared but
// unimplemented and fail loudly here.
func NewStrategy(cfg Config) (Strategy, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Strategy {
	case StrategyExponentialBackoff:
		return NewExponentialBackoffStrategy(cfg), nil
	case StrategyAdaptive:
		return NewAdaptiveRetryStrategy(cfg), nil
	case StrategyCircuitBreaker:
		return NewCircuitBreakerStrategy(cfg), nil
	case StrategyFixedDelay, StrategyLinearBackoff, StrategyNoRetry:
		return nil, fmt.Errorf("%w: %s has no registered implementation", ErrUnsupportedStrategy, cfg.Strategy)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, cfg.Strategy)
	}
}

func validateConfig(cfg Config) error {
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries %d < 0", ErrInvalidConfig, cfg.MaxRetries)
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		return fmt.Errorf("%w: base_delay %s exceeds max_delay %s", ErrInvalidConfig, cfg.BaseDelay, cfg.MaxDelay)
	}
	return nil
}
