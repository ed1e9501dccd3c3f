package workflows

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/constants"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
)

// CoordinatorWorkflow is the single entry point for every coordination
// pattern. It validates the spec, announces the start on the repository
// topic, dispatches to the pattern runner, and records the terminal
// status both durably and as a coordination event.
func CoordinatorWorkflow(ctx workflow.Context, input WorkflowInput) (WorkflowOutput, error) {
	logger := workflow.GetLogger(ctx)
	started := workflow.Now(ctx)

	logger.Info("Coordinator workflow started",
		"workflow_id", input.WorkflowID,
		"workflow_type", input.Spec.Type,
		"workflow_name", input.Spec.Name,
	)

	if err := input.Spec.Validate(); err != nil {
		recordWorkflowStatus(ctx, input, db.WorkflowStatusFailed, started)
		return WorkflowOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), "ValidationError", nil)
	}

	// Mint an analysis id when the caller wants repository-scoped events
	// but supplied none.
	if input.AnalysisID == "" && input.RepositoryPath != "" {
		var analysisID string
		workflow.SideEffect(ctx, func(ctx workflow.Context) interface{} {
			return uuid.New().String()
		}).Get(&analysisID)
		input.AnalysisID = analysisID
	}

	recordWorkflowStatus(ctx, input, db.WorkflowStatusRunning, started)
	publishEvent(ctx, input, string(coordination.EventAnalysisStarted), map[string]interface{}{
		"workflow_id":   input.WorkflowID,
		"workflow_type": input.Spec.Type,
		"workflow_name": input.Spec.Name,
	})

	out := WorkflowOutput{
		WorkflowID:   input.WorkflowID,
		WorkflowType: input.Spec.Type,
	}

	var runErr error
	switch input.Spec.Type {
	case WorkflowTypeSequential:
		out.Results, runErr = runSequential(ctx, input)
	case WorkflowTypeParallel:
		out.Results = runParallel(ctx, input, input.Spec.ParallelTasks, "")
	case WorkflowTypeFanOutFanIn:
		out.Results, out.Synthesis, runErr = runFanOutFanIn(ctx, input)
	case WorkflowTypeHierarchical:
		out.Results, out.Synthesis, runErr = runHierarchical(ctx, input)
	}
	out.FailedTasks = failedAgentIDs(out.Results)
	out.CompletedAt = workflow.Now(ctx).UTC()

	if runErr != nil {
		recordWorkflowStatus(ctx, input, db.WorkflowStatusFailed, started)
		publishEvent(ctx, input, string(coordination.EventAnalysisFailed), map[string]interface{}{
			"workflow_id": input.WorkflowID,
			"error":       runErr.Error(),
		})
		logger.Warn("Coordinator workflow failed",
			"workflow_id", input.WorkflowID,
			"workflow_type", input.Spec.Type,
			"error", runErr,
		)
		return out, runErr
	}

	recordWorkflowStatus(ctx, input, db.WorkflowStatusCompleted, started)
	publishEvent(ctx, input, string(coordination.EventAnalysisCompleted), map[string]interface{}{
		"workflow_id":  input.WorkflowID,
		"failed_tasks": out.FailedTasks,
	})

	logger.Info("Coordinator workflow completed",
		"workflow_id", input.WorkflowID,
		"workflow_type", input.Spec.Type,
		"tasks", len(out.Results),
		"failed", len(out.FailedTasks),
	)
	return out, nil
}

func failedAgentIDs(results []activities.TaskResult) []string {
	var failed []string
	for _, r := range results {
		if r.Status == activities.TaskStatusFailed {
			failed = append(failed, r.AgentID)
		}
	}
	return failed
}

// recordWorkflowStatus transitions the tracking row, attaching the type
// and elapsed time on terminal transitions for the completion metric.
func recordWorkflowStatus(ctx workflow.Context, input WorkflowInput, status string, started time.Time) {
	trackCtx := withTrackingOptions(ctx)
	statusInput := activities.WorkflowStatusInput{
		WorkflowID: input.WorkflowID,
		Status:     status,
	}
	if status == db.WorkflowStatusCompleted || status == db.WorkflowStatusFailed {
		statusInput.WorkflowType = input.Spec.Type
		statusInput.DurationSeconds = workflow.Now(ctx).Sub(started).Seconds()
	}
	if err := workflow.ExecuteActivity(trackCtx, constants.RecordWorkflowStatusActivity, statusInput).Get(trackCtx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record workflow status",
			"workflow_id", input.WorkflowID,
			"status", status,
			"error", err,
		)
	}
}

// publishEvent emits a coordination event for workflows that carry a
// repository path; others run silently.
func publishEvent(ctx workflow.Context, input WorkflowInput, eventType string, payload map[string]interface{}) {
	if input.RepositoryPath == "" {
		return
	}
	trackCtx := withTrackingOptions(ctx)
	if err := workflow.ExecuteActivity(trackCtx, constants.PublishCoordinationEventActivity, activities.CoordinationEventInput{
		EventType:      eventType,
		RepositoryPath: input.RepositoryPath,
		AnalysisID:     input.AnalysisID,
		Payload:        payload,
	}).Get(trackCtx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to publish coordination event",
			"event_type", eventType,
			"error", err,
		)
	}
}
