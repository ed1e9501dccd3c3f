package activities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/retry"
)

func newRetryActivities(t *testing.T) *Activities {
	t.Helper()
	mgr, err := retry.NewManager("", zap.NewNop())
	require.NoError(t, err)
	return NewActivities(nil, nil, nil, mgr, zap.NewNop())
}

func TestDecideRetryAllowsNetworkError(t *testing.T) {
	a := newRetryActivities(t)
	env := newActivityEnv(t, a)

	val, err := env.ExecuteActivity(a.DecideRetry, RetryQuery{
		AgentType:     "codebase_analysis",
		ErrorMessage:  "connection refused by upstream",
		AttemptNumber: 0,
	})
	require.NoError(t, err)

	var d RetryDecision
	require.NoError(t, val.Get(&d))
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, string(retry.FailureNetwork), d.FailureType)
	assert.Equal(t, string(retry.StrategyExponentialBackoff), d.Strategy)
	assert.Greater(t, d.Delay, time.Duration(0))
	assert.False(t, d.Fallback)
}

func TestDecideRetryRefusesValidationError(t *testing.T) {
	a := newRetryActivities(t)
	env := newActivityEnv(t, a)

	val, err := env.ExecuteActivity(a.DecideRetry, RetryQuery{
		AgentType:     "content_analysis",
		ErrorMessage:  `validation error: unknown task name "telepathy"`,
		AttemptNumber: 0,
	})
	require.NoError(t, err)

	var d RetryDecision
	require.NoError(t, val.Get(&d))
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, string(retry.FailureValidation), d.FailureType)
}

func TestDecideRetryWithoutManagerFails(t *testing.T) {
	a := NewActivities(nil, nil, nil, nil, zap.NewNop())
	env := newActivityEnv(t, a)

	_, err := env.ExecuteActivity(a.DecideRetry, RetryQuery{
		AgentType:    "content_analysis",
		ErrorMessage: "timeout",
	})
	require.Error(t, err)
}

func TestRecordRetrySuccessIsBestEffort(t *testing.T) {
	// Without a manager the activity is a no-op rather than a failure.
	a := NewActivities(nil, nil, nil, nil, zap.NewNop())
	env := newActivityEnv(t, a)
	_, err := env.ExecuteActivity(a.RecordRetrySuccess, RetrySuccess{
		AgentType:   "content_analysis",
		FailureType: string(retry.FailureTimeout),
	})
	require.NoError(t, err)

	withMgr := newRetryActivities(t)
	env = newActivityEnv(t, withMgr)
	_, err = env.ExecuteActivity(withMgr.RecordRetrySuccess, RetrySuccess{
		AgentType:   "content_analysis",
		FailureType: string(retry.FailureTimeout),
	})
	require.NoError(t, err)
}
