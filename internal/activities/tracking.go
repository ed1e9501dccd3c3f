package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
)

// RecordWorkflowStatus transitions the durable workflow tracking row
// through the async write queue.
func (a *Activities) RecordWorkflowStatus(ctx context.Context, input WorkflowStatusInput) error {
	if input.WorkflowType != "" &&
		(input.Status == db.WorkflowStatusCompleted || input.Status == db.WorkflowStatusFailed) {
		metrics.RecordWorkflowCompleted(input.WorkflowType, input.Status, input.DurationSeconds)
	}
	if a.dbc == nil {
		activity.GetLogger(ctx).Debug("No DB client, skipping workflow status",
			"workflow_id", input.WorkflowID,
			"status", input.Status,
		)
		return nil
	}
	id, err := uuid.Parse(input.WorkflowID)
	if err != nil {
		return fmt.Errorf("validation error: workflow id %q is not a uuid: %v", input.WorkflowID, err)
	}
	return a.dbc.QueueWrite(db.WriteTypeWorkflowStatus, &db.WorkflowStatusUpdate{
		WorkflowID: id,
		Status:     input.Status,
	}, nil)
}

// RecordTaskProgress upserts one task's progress row through the async
// write queue.
func (a *Activities) RecordTaskProgress(ctx context.Context, input TaskProgressInput) error {
	if a.dbc == nil {
		activity.GetLogger(ctx).Debug("No DB client, skipping task progress",
			"task_id", input.TaskID,
			"status", input.Status,
		)
		return nil
	}
	progress := input.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	row := &db.TaskProgress{
		TaskID:    input.TaskID,
		AgentType: input.AgentType,
		Status:    input.Status,
		Progress:  progress,
		UpdatedAt: time.Now().UTC(),
	}
	if input.WorkflowID != "" {
		row.WorkflowID = &input.WorkflowID
	}
	if input.CurrentStep != "" {
		row.CurrentStep = &input.CurrentStep
	}
	if len(input.Result) > 0 {
		row.Result = db.JSONB(input.Result)
	}
	if input.ErrorMessage != "" {
		row.ErrorMessage = &input.ErrorMessage
	}
	return a.dbc.QueueWrite(db.WriteTypeTaskProgress, row, nil)
}

// RecordAgentResult persists one terminal task outcome for the progress
// and debugging surface.
func (a *Activities) RecordAgentResult(ctx context.Context, input AgentResultInput) error {
	if a.dbc == nil {
		activity.GetLogger(ctx).Debug("No DB client, skipping agent result",
			"task_id", input.TaskID,
		)
		return nil
	}
	r := input.Result
	row := &db.AgentResult{
		ID:         uuid.New(),
		WorkflowID: input.WorkflowID,
		TaskID:     input.TaskID,
		AgentType:  AgentTypeForTask(r.TaskName),
		Status:     r.Status,
		Confidence: r.Confidence,
		TokensUsed: r.TokensUsed,
		DurationMs: r.DurationMs,
		CreatedAt:  time.Now().UTC(),
	}
	if len(r.Result) > 0 {
		row.Result = db.JSONB(r.Result)
	}
	if r.Error != "" {
		msg := r.Error
		row.ErrorMessage = &msg
	}
	return a.dbc.QueueWrite(db.WriteTypeAgentResult, row, nil)
}

// PublishCoordinationEvent emits a coordination event on behalf of
// workflow code. Best effort by contract: events without a repository
// path or with an unreachable broker are logged and dropped, never
// surfaced as workflow failures.
func (a *Activities) PublishCoordinationEvent(ctx context.Context, input CoordinationEventInput) error {
	logger := activity.GetLogger(ctx)
	if a.coord == nil || input.RepositoryPath == "" {
		logger.Debug("Coordination event dropped",
			"event_type", input.EventType,
			"repository_path", input.RepositoryPath,
		)
		return nil
	}
	err := a.coord.PublishEvent(ctx, coordination.Event{
		EventType:      coordination.EventType(input.EventType),
		RepositoryPath: input.RepositoryPath,
		AnalysisID:     input.AnalysisID,
		Priority:       input.Priority,
		Payload:        input.Payload,
	})
	if err != nil {
		logger.Warn("Failed to publish coordination event",
			"event_type", input.EventType,
			"error", err,
		)
	}
	return nil
}
