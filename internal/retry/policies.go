package retry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// builtinPolicies is the static per-agent-type retry table. It is the
// source of truth at startup; retry_policies.yaml may override entries but
// nothing reloads the table afterwards.
//
// media_processing historically carried a linear_backoff strategy that was
// never registered with the factory; it now uses the circuit breaker,
// whose base*(attempt+1) delay is the linear growth that config wanted,
// with a cooldown on top for the ffmpeg/whisper pipeline.
func builtinPolicies() map[string]Config {
	return map[string]Config{
		"conversation_intelligence": {
			Strategy:        StrategyAdaptive,
			MaxRetries:      3,
			BaseDelay:       30 * time.Second,
			MaxDelay:        5 * time.Minute,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		"content_analysis": {
			Strategy:                StrategyCircuitBreaker,
			MaxRetries:              3,
			BaseDelay:               10 * time.Second,
			MaxDelay:                3 * time.Minute,
			Jitter:                  true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   5 * time.Minute,
		},
		"media_processing": {
			Strategy:                StrategyCircuitBreaker,
			MaxRetries:              3,
			BaseDelay:               60 * time.Second,
			MaxDelay:                10 * time.Minute,
			Jitter:                  true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   10 * time.Minute,
		},
		"knowledge_graph": {
			Strategy:        StrategyAdaptive,
			MaxRetries:      3,
			BaseDelay:       20 * time.Second,
			MaxDelay:        4 * time.Minute,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		"codebase_analysis": {
			Strategy:        StrategyExponentialBackoff,
			MaxRetries:      4,
			BaseDelay:       15 * time.Second,
			MaxDelay:        5 * time.Minute,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		"default": {
			Strategy:        StrategyExponentialBackoff,
			MaxRetries:      3,
			BaseDelay:       10 * time.Second,
			MaxDelay:        2 * time.Minute,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
	}
}

// yamlPolicy is the on-disk shape of one override entry. Delays are plain
// seconds so the file stays editable without duration-string rules:
//
//	policies:
//	  content_analysis:
//	    strategy: circuit_breaker
//	    max_retries: 5
//	    base_delay: 20
type yamlPolicy struct {
	Strategy                string   `yaml:"strategy"`
	MaxRetries              int      `yaml:"max_retries"`
	BaseDelay               float64  `yaml:"base_delay"`
	MaxDelay                float64  `yaml:"max_delay"`
	ExponentialBase         float64  `yaml:"exponential_base"`
	Jitter                  bool     `yaml:"jitter"`
	CircuitBreakerThreshold int      `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   float64  `yaml:"circuit_breaker_timeout"`
	FailureTypes            []string `yaml:"failure_types"`
}

type policyFile struct {
	Policies map[string]yamlPolicy `yaml:"policies"`
}

func (p yamlPolicy) toConfig() Config {
	cfg := Config{
		Strategy:                StrategyKind(p.Strategy),
		MaxRetries:              p.MaxRetries,
		BaseDelay:               secondsToDuration(p.BaseDelay),
		MaxDelay:                secondsToDuration(p.MaxDelay),
		ExponentialBase:         p.ExponentialBase,
		Jitter:                  p.Jitter,
		CircuitBreakerThreshold: p.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   secondsToDuration(p.CircuitBreakerTimeout),
	}
	for _, ft := range p.FailureTypes {
		cfg.FailureTypes = append(cfg.FailureTypes, FailureType(ft))
	}
	return cfg
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// loadPolicyOverrides merges retry_policies.yaml entries over the builtin
// table. A missing file is not an error; a malformed one is, so a typo
// cannot silently revert an agent to defaults.
func loadPolicyOverrides(path string, policies map[string]Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read retry policies: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse retry policies: %w", err)
	}
	for agentType, p := range file.Policies {
		policies[agentType] = p.toConfig()
	}
	return nil
}
