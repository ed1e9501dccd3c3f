package workflows

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/constants"
)

// runFanOutFanIn runs the fan-out batch to completion, then hands the
// complete terminal result set, successes and failures alike, to exactly
// one synthesis activity.
func runFanOutFanIn(ctx workflow.Context, input WorkflowInput) ([]activities.TaskResult, *activities.SynthesisOutput, error) {
	results := runParallel(ctx, input, input.Spec.FanOutTasks, "")
	synthesis, err := synthesize(ctx, input, input.Spec.FanInTask, results)
	if err != nil {
		return results, nil, err
	}
	return results, synthesis, nil
}

// synthesize invokes the fan-in activity over a completed batch. The
// batch may contain any mix of outcomes; tolerance for partial failure
// lives in the activity.
func synthesize(ctx workflow.Context, input WorkflowInput, fanIn *TaskSpec, results []activities.TaskResult) (*activities.SynthesisOutput, error) {
	taskName := input.Spec.Name
	var params map[string]interface{}
	if fanIn != nil {
		if fanIn.Task != "" {
			taskName = fanIn.Task
		}
		params = fanIn.Params
	}
	if taskName == "" {
		taskName = "synthesis"
	}

	synthCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: synthesisTimeout,
		HeartbeatTimeout:    agentTaskHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var out activities.SynthesisOutput
	if err := workflow.ExecuteActivity(synthCtx, constants.SynthesizeResultsActivity, activities.SynthesisInput{
		TaskName:       taskName,
		WorkflowID:     input.WorkflowID,
		UserID:         input.UserID,
		Params:         params,
		AgentResults:   results,
		RepositoryPath: input.RepositoryPath,
		AnalysisID:     input.AnalysisID,
	}).Get(synthCtx, &out); err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	return &out, nil
}
