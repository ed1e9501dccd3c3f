package retry

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
)

// Manager routes failures through the classifier and the per-agent-type
// strategy. One strategy instance is lazily created and cached per agent
// type; the first config wins for the process lifetime, so adaptive and
// circuit state accumulate in one place per worker. Learning is therefore
// per-process, not fleet-wide: two workers can hold different circuit
// states for the same agent type, which is accepted as advisory.
type Manager struct {
	logger   *zap.Logger
	policies map[string]Config

	mu         sync.Mutex
	strategies map[string]Strategy

	lastFailure sync.Map // agentType -> FailureType, for success reporting
}

// NewManager builds the manager from the builtin policy table, merged with
// overrides from policyPath when the file exists.
func NewManager(policyPath string, logger *zap.Logger) (*Manager, error) {
	policies := builtinPolicies()
	if err := loadPolicyOverrides(policyPath, policies); err != nil {
		return nil, err
	}
	return &Manager{
		logger:     logger,
		policies:   policies,
		strategies: make(map[string]Strategy),
	}, nil
}

// Decide classifies err and asks the agent type's cached strategy whether
// attempt may be retried and after how long. The failure is recorded into
// the strategy's state machine and attempt log before the decision. If the
// decision machinery itself fails (unknown strategy, invalid config), a
// fixed fallback policy applies: retry while attempt < 3 with
// min(10*2^attempt, 60) seconds of delay.
func (m *Manager) Decide(agentType string, err error, attempt int) Decision {
	ft := Classify(err)
	m.lastFailure.Store(agentType, ft)

	strategy, serr := m.strategyFor(agentType)
	if serr != nil {
		m.logger.Error("Retry strategy unavailable, using fallback policy",
			zap.String("agent_type", agentType),
			zap.Int("attempt", attempt),
			zap.Error(serr),
		)
		return m.fallback(agentType, ft, attempt)
	}

	strategy.RecordFailure(ft)
	decision := Decision{
		FailureType: ft,
		Strategy:    strategy.Kind(),
	}
	if strategy.ShouldRetry(attempt, ft, err) {
		decision.ShouldRetry = true
		decision.Delay = strategy.Delay(attempt, ft)
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	strategy.RecordAttempt(Attempt{
		AttemptNumber:   attempt,
		FailureType:     ft,
		ErrorMessage:    errMsg,
		Timestamp:       time.Now(),
		DelayUsed:       decision.Delay,
		StrategyApplied: strategy.Kind(),
	})

	outcome := "refused"
	if decision.ShouldRetry {
		outcome = "retry"
		metrics.RecordRetryDelay(agentType, decision.Delay.Seconds())
	}
	metrics.RecordRetryDecision(agentType, string(ft), string(strategy.Kind()), outcome)

	m.logger.Info("Retry decision",
		zap.String("agent_type", agentType),
		zap.String("failure_type", string(ft)),
		zap.String("strategy", string(strategy.Kind())),
		zap.Int("attempt", attempt),
		zap.Bool("retry", decision.ShouldRetry),
		zap.Duration("delay", decision.Delay),
	)
	return decision
}

// RecordSuccess reports a success that followed at least one retry. The
// failure type that was being retried is threaded through so adaptive
// success ratios learn per type rather than against a generic bucket.
func (m *Manager) RecordSuccess(agentType string, ft FailureType) {
	if ft == "" {
		if v, ok := m.lastFailure.Load(agentType); ok {
			ft = v.(FailureType)
		} else {
			ft = FailureUnknown
		}
	}
	if strategy, err := m.strategyFor(agentType); err == nil {
		strategy.RecordSuccess(ft)
	}
	metrics.RecordRetrySuccess(agentType, string(ft))
}

// Attempts exposes the attempt log for an agent type, empty when no
// strategy has been created yet.
func (m *Manager) Attempts(agentType string) []Attempt {
	m.mu.Lock()
	strategy, ok := m.strategies[agentType]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return strategy.Attempts()
}

// PolicyFor returns the effective config for an agent type, falling back
// to the default entry.
func (m *Manager) PolicyFor(agentType string) Config {
	if cfg, ok := m.policies[agentType]; ok {
		return cfg
	}
	return m.policies["default"]
}

func (m *Manager) strategyFor(agentType string) (Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.strategies[agentType]; ok {
		return s, nil
	}
	cfg, ok := m.policies[agentType]
	if !ok {
		cfg = m.policies["default"]
	}
	s, err := NewStrategy(cfg)
	if err != nil {
		return nil, err
	}
	m.strategies[agentType] = s
	m.logger.Debug("Retry strategy created",
		zap.String("agent_type", agentType),
		zap.String("strategy", string(s.Kind())),
	)
	return s, nil
}

func (m *Manager) fallback(agentType string, ft FailureType, attempt int) Decision {
	d := Decision{
		FailureType: ft,
		Fallback:    true,
	}
	if attempt < 3 {
		d.ShouldRetry = true
		delay := 10 * math.Pow(2, float64(attempt))
		if delay > 60 {
			delay = 60
		}
		d.Delay = time.Duration(delay * float64(time.Second))
	}
	outcome := "refused"
	if d.ShouldRetry {
		outcome = "retry"
	}
	metrics.RecordRetryDecision(agentType, string(ft), "fallback", outcome)
	return d
}
