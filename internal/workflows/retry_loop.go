package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/constants"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
)

const (
	agentTaskTimeout          = 10 * time.Minute
	agentTaskHeartbeatTimeout = 3 * time.Minute
	trackingTimeout           = 30 * time.Second
	synthesisTimeout          = 5 * time.Minute
)

// withAgentTaskOptions configures a single-attempt agent task execution.
// MaximumAttempts is pinned to 1: the retry loop below owns rescheduling,
// so the Temporal server must never retry on its own.
func withAgentTaskOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: agentTaskTimeout,
		HeartbeatTimeout:    agentTaskHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
}

// withTrackingOptions configures the quick bookkeeping activities.
func withTrackingOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: trackingTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// activityErrorMessage recovers the original failure message from a
// Temporal error chain, since the retry classifier works on message text.
func activityErrorMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Sprintf("activity timeout: %s", timeoutErr.TimeoutType())
	}
	return err.Error()
}

// executeTaskWithRetry drives one task through the retry state machine:
// RUNNING, then on failure either RETRY_SCHEDULED (sleep and re-execute
// with the incremented attempt counter) or PERMANENTLY_FAILED when the
// retry manager refuses. Always returns a terminal TaskResult; the caller
// decides whether a failure aborts the surrounding pattern. Progress
// upserts bracket every attempt and the terminal outcome is persisted to
// the agent results table.
func executeTaskWithRetry(ctx workflow.Context, input WorkflowInput, task TaskSpec, agentID string, params map[string]interface{}) activities.TaskResult {
	logger := workflow.GetLogger(ctx)
	agentType := activities.AgentTypeForTask(task.Task)
	taskID := fmt.Sprintf("%s:%s", workflow.GetInfo(ctx).WorkflowExecution.ID, agentID)

	execCtx := withAgentTaskOptions(ctx)
	trackCtx := withTrackingOptions(ctx)
	start := workflow.Now(ctx)

	attempt := 0
	var lastFailureType string
	for {
		recordProgress(trackCtx, activities.TaskProgressInput{
			TaskID:      taskID,
			WorkflowID:  input.WorkflowID,
			AgentType:   agentType,
			Status:      db.TaskStatusRunning,
			Progress:    10,
			CurrentStep: fmt.Sprintf("attempt %d", attempt+1),
		})

		var result activities.TaskResult
		err := workflow.ExecuteActivity(execCtx, constants.ExecuteAgentTaskActivity, activities.AgentTaskInput{
			AgentID:        agentID,
			TaskName:       task.Task,
			Params:         params,
			WorkflowID:     input.WorkflowID,
			UserID:         input.UserID,
			AttemptNumber:  attempt,
			RepositoryPath: input.RepositoryPath,
			AnalysisID:     input.AnalysisID,
		}).Get(execCtx, &result)

		if err == nil {
			if attempt > 0 {
				_ = workflow.ExecuteActivity(trackCtx, constants.RecordRetrySuccessActivity, activities.RetrySuccess{
					AgentType:   agentType,
					FailureType: lastFailureType,
				}).Get(trackCtx, nil)
			}
			recordProgress(trackCtx, activities.TaskProgressInput{
				TaskID:     taskID,
				WorkflowID: input.WorkflowID,
				AgentType:  agentType,
				Status:     db.TaskStatusCompleted,
				Progress:   100,
				Result:     result.Result,
			})
			persistAgentResult(ctx, input.WorkflowID, taskID, result)
			return result
		}

		errMsg := activityErrorMessage(err)
		var decision activities.RetryDecision
		if derr := workflow.ExecuteActivity(trackCtx, constants.DecideRetryActivity, activities.RetryQuery{
			AgentType:     agentType,
			ErrorMessage:  errMsg,
			AttemptNumber: attempt,
		}).Get(trackCtx, &decision); derr != nil {
			// No decision means no retry; the original failure stands.
			logger.Error("Retry decision unavailable",
				"agent_id", agentID,
				"agent_type", agentType,
				"error", derr,
			)
			decision = activities.RetryDecision{}
		}
		lastFailureType = decision.FailureType

		if !decision.ShouldRetry {
			logger.Warn("Task permanently failed",
				"agent_id", agentID,
				"agent_type", agentType,
				"failure_type", decision.FailureType,
				"attempts", attempt+1,
				"error", errMsg,
			)
			failed := activities.TaskResult{
				AgentID:    agentID,
				TaskName:   task.Task,
				Status:     activities.TaskStatusFailed,
				Error:      errMsg,
				DurationMs: workflow.Now(ctx).Sub(start).Milliseconds(),
			}
			recordProgress(trackCtx, activities.TaskProgressInput{
				TaskID:       taskID,
				WorkflowID:   input.WorkflowID,
				AgentType:    agentType,
				Status:       db.TaskStatusFailed,
				Progress:     10,
				CurrentStep:  fmt.Sprintf("failed after %d attempts", attempt+1),
				ErrorMessage: errMsg,
			})
			persistAgentResult(ctx, input.WorkflowID, taskID, failed)
			return failed
		}

		logger.Info("Retry scheduled",
			"agent_id", agentID,
			"agent_type", agentType,
			"failure_type", decision.FailureType,
			"strategy", decision.Strategy,
			"delay", decision.Delay,
			"attempt", attempt,
		)
		recordProgress(trackCtx, activities.TaskProgressInput{
			TaskID:      taskID,
			WorkflowID:  input.WorkflowID,
			AgentType:   agentType,
			Status:      db.TaskStatusPending,
			Progress:    10,
			CurrentStep: fmt.Sprintf("retry %d scheduled after %s (%s)", attempt+1, decision.Delay, decision.FailureType),
		})

		// Suspend without holding a worker slot; the countdown is the
		// queue-native reschedule.
		if err := workflow.Sleep(ctx, decision.Delay); err != nil {
			failed := activities.TaskResult{
				AgentID:    agentID,
				TaskName:   task.Task,
				Status:     activities.TaskStatusFailed,
				Error:      errMsg,
				DurationMs: workflow.Now(ctx).Sub(start).Milliseconds(),
			}
			return failed
		}
		attempt++
	}
}

// recordProgress upserts a task progress row, tolerating bookkeeping
// failures so they never fail the task itself.
func recordProgress(ctx workflow.Context, progress activities.TaskProgressInput) {
	if err := workflow.ExecuteActivity(ctx, constants.RecordTaskProgressActivity, progress).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record task progress",
			"task_id", progress.TaskID,
			"error", err,
		)
	}
}

// persistAgentResult stores a terminal outcome, fire and forget on a
// disconnected context so workflow completion is never blocked on it.
func persistAgentResult(ctx workflow.Context, workflowID, taskID string, result activities.TaskResult) {
	detachedCtx, _ := workflow.NewDisconnectedContext(ctx)
	detachedCtx = withTrackingOptions(detachedCtx)
	workflow.ExecuteActivity(detachedCtx, constants.RecordAgentResultActivity, activities.AgentResultInput{
		WorkflowID: workflowID,
		TaskID:     taskID,
		Result:     result,
	})
}
