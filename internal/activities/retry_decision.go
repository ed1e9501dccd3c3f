package activities

import (
	"context"
	"errors"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/retry"
)

// DecideRetry consults the process-local retry manager for one failed
// attempt. The original error crosses the activity boundary as a message,
// so classification runs on the substring rules; decision state (adaptive
// windows, circuit breakers) lives in whichever worker the activity lands
// on. The manager does its own logging and metrics.
func (a *Activities) DecideRetry(ctx context.Context, q RetryQuery) (RetryDecision, error) {
	if a.retries == nil {
		return RetryDecision{}, errors.New("retry manager not configured")
	}
	d := a.retries.Decide(q.AgentType, errors.New(q.ErrorMessage), q.AttemptNumber)
	return RetryDecision{
		ShouldRetry: d.ShouldRetry,
		Delay:       d.Delay,
		FailureType: string(d.FailureType),
		Strategy:    string(d.Strategy),
		Fallback:    d.Fallback,
	}, nil
}

// RecordRetrySuccess credits a success that followed at least one retry,
// feeding the adaptive success ratio for the failure type that was
// overcome. Best effort: a missing manager is not a workflow failure.
func (a *Activities) RecordRetrySuccess(ctx context.Context, s RetrySuccess) error {
	if a.retries == nil {
		return nil
	}
	a.retries.RecordSuccess(s.AgentType, retry.FailureType(s.FailureType))
	return nil
}
