package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
)

// runSequential executes stages as a strict chain. Each stage's params
// carry the previous stage's full result under "previous_result"; the
// first failure aborts the remainder and surfaces that stage's error.
func runSequential(ctx workflow.Context, input WorkflowInput) ([]activities.TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	stages := input.Spec.Stages
	results := make([]activities.TaskResult, 0, len(stages))

	var previous *activities.TaskResult
	for i, stage := range stages {
		agentID := fmt.Sprintf("%s-stage-%d", stage.Task, i)
		params := cloneParams(stage.Params)
		if previous != nil {
			params["previous_result"] = map[string]interface{}{
				"agent_id":   previous.AgentID,
				"task_name":  previous.TaskName,
				"result":     previous.Result,
				"confidence": previous.Confidence,
			}
		}

		result := executeTaskWithRetry(ctx, input, stage, agentID, params)
		results = append(results, result)
		if result.Status != activities.TaskStatusCompleted {
			logger.Warn("Sequential chain aborted",
				"stage", i,
				"task", stage.Task,
				"error", result.Error,
			)
			return results, fmt.Errorf("stage %d (%s) failed: %s", i, stage.Task, result.Error)
		}

		prev := result
		previous = &prev

		publishEvent(ctx, input, string(coordination.EventAnalysisProgress), map[string]interface{}{
			"workflow_id": input.WorkflowID,
			"stage":       i,
			"stages":      len(stages),
			"progress":    (i + 1) * 100 / len(stages),
		})
	}
	return results, nil
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		cloned[k] = v
	}
	return cloned
}
