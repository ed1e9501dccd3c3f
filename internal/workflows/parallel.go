package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
)

// resultWithIndex carries one task's terminal outcome back to the
// collector together with its submission index and a release channel the
// collector signals once the result is recorded.
type resultWithIndex struct {
	Index   int
	Result  activities.TaskResult
	Release workflow.Channel
}

// runParallel executes tasks as an unordered batch, each through its own
// retry loop in a workflow goroutine, bounded by a semaphore. Results are
// returned in submission order regardless of completion order; individual
// failures are data, never an error for the batch. idPrefix distinguishes
// agent IDs when several batches run in one workflow.
func runParallel(ctx workflow.Context, input WorkflowInput, tasks []TaskSpec, idPrefix string) []activities.TaskResult {
	logger := workflow.GetLogger(ctx)
	maxConcurrency := input.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	logger.Info("Starting parallel batch",
		"task_count", len(tasks),
		"max_concurrency", maxConcurrency,
	)

	sem := workflow.NewSemaphore(ctx, int64(maxConcurrency))
	resultsChan := workflow.NewChannel(ctx)

	for i, task := range tasks {
		i := i       // capture for closure
		task := task // capture for closure

		workflow.Go(ctx, func(gctx workflow.Context) {
			agentID := fmt.Sprintf("%s%s-%d", idPrefix, task.Task, i)
			if err := sem.Acquire(gctx, 1); err != nil {
				logger.Error("Failed to acquire concurrency permit",
					"agent_id", agentID,
					"error", err,
				)
				resultsChan.Send(gctx, resultWithIndex{
					Index: i,
					Result: activities.TaskResult{
						AgentID:  agentID,
						TaskName: task.Task,
						Status:   activities.TaskStatusFailed,
						Error:    fmt.Sprintf("concurrency permit unavailable: %v", err),
					},
				})
				return
			}
			rel := workflow.NewChannel(gctx)

			result := executeTaskWithRetry(gctx, input, task, agentID, cloneParams(task.Params))
			resultsChan.Send(gctx, resultWithIndex{Index: i, Result: result, Release: rel})

			// Hold the permit until the collector has recorded the result.
			var sig struct{}
			rel.Receive(gctx, &sig)
			sem.Release(1)
		})
	}

	// Collect in completion order; store by submission index.
	results := make([]activities.TaskResult, len(tasks))
	completed := 0
	failed := 0
	for received := 0; received < len(tasks); received++ {
		var rwi resultWithIndex
		resultsChan.Receive(ctx, &rwi)
		results[rwi.Index] = rwi.Result
		if rwi.Result.Status == activities.TaskStatusCompleted {
			completed++
		} else {
			failed++
		}
		if rwi.Release != nil {
			var sig struct{}
			rwi.Release.Send(ctx, sig)
		}
	}

	logger.Info("Parallel batch completed",
		"total_tasks", len(tasks),
		"successful", completed,
		"failed", failed,
	)
	return results
}
