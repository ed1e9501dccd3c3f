// Package server implements the coordinator's service layer: workflow
// submission to Temporal with a durable tracking row, progress and status
// queries, and coordination passthroughs for the HTTP surface.
package server

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/constants"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/tracing"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/workflows"
)

// CoordinatorService ties the HTTP surface to Temporal, the tracking
// database, and the coordination bus. The Temporal client is required;
// the DB client, progress reader, and coordination service may be nil and
// the corresponding surfaces degrade.
type CoordinatorService struct {
	temporalClient client.Client
	dbClient       *db.Client
	progress       *db.ProgressReader
	coord          *coordination.Service
	logger         *zap.Logger

	// Submission-time concurrency knobs, hot-reloaded from tunables.
	// Zero means unset: requests pass through and the workflow applies
	// its own default.
	defaultMaxConcurrency atomic.Int64
	maxConcurrencyLimit   atomic.Int64
}

// NewCoordinatorService creates the service layer.
func NewCoordinatorService(
	temporalClient client.Client,
	dbClient *db.Client,
	progress *db.ProgressReader,
	coord *coordination.Service,
	logger *zap.Logger,
) *CoordinatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoordinatorService{
		temporalClient: temporalClient,
		dbClient:       dbClient,
		progress:       progress,
		coord:          coord,
		logger:         logger,
	}
}

// SetOrchestrationLimits installs the submission-time concurrency default
// and cap. Safe to call while requests are in flight; running workflows
// keep the values they were submitted with.
func (s *CoordinatorService) SetOrchestrationLimits(defaultMax, limit int) {
	s.defaultMaxConcurrency.Store(int64(defaultMax))
	s.maxConcurrencyLimit.Store(int64(limit))
}

// effectiveConcurrency resolves the concurrency a submission runs with.
func (s *CoordinatorService) effectiveConcurrency(requested int) int {
	if requested <= 0 {
		return int(s.defaultMaxConcurrency.Load())
	}
	if limit := int(s.maxConcurrencyLimit.Load()); limit > 0 && requested > limit {
		return limit
	}
	return requested
}

// SubmitRequest is one orchestration request from a caller.
type SubmitRequest struct {
	Spec           workflows.WorkflowSpec `json:"spec"`
	UserID         string                 `json:"user_id,omitempty"`
	RepositoryPath string                 `json:"repository_path,omitempty"`
	AnalysisID     string                 `json:"analysis_id,omitempty"`
	MaxConcurrency int                    `json:"max_concurrency,omitempty"`
}

// SubmitResponse acknowledges a submission. ExecutionResult carries the
// Temporal run ID; results are never awaited here.
type SubmitResponse struct {
	Status          string    `json:"status"`
	WorkflowID      string    `json:"workflow_id"`
	WorkflowType    string    `json:"workflow_type"`
	ExecutionResult string    `json:"execution_result"`
	InitiatedAt     time.Time `json:"initiated_at"`
}

// SubmitWorkflow validates the spec, writes the tracking row, starts the
// coordinator workflow, and returns immediately with the workflow ID the
// caller polls. The external workflow ID embeds the tracking row UUID.
func (s *CoordinatorService) SubmitWorkflow(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if s.temporalClient == nil {
		return nil, fmt.Errorf("temporal client not configured")
	}
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "SubmitWorkflow")
	defer span.End()

	trackingID := uuid.New()
	workflowID := constants.WorkflowIDPrefix + trackingID.String()
	workflowName := req.Spec.Name
	if workflowName == "" {
		workflowName = req.Spec.Type
	}

	// Write-on-submit: the durable record exists before the workflow does.
	// A failed write degrades status queries but never blocks submission.
	if s.dbClient != nil {
		tracking := &db.WorkflowTracking{
			ID:             trackingID,
			WorkflowName:   workflowName,
			WorkflowType:   req.Spec.Type,
			WorkflowConfig: specConfig(req),
			Status:         db.WorkflowStatusCreated,
		}
		if uid, err := uuid.Parse(req.UserID); err == nil {
			tracking.UserID = &uid
		}
		if err := s.dbClient.SaveWorkflowTracking(ctx, tracking); err != nil {
			s.logger.Warn("Failed to save workflow tracking, submitting anyway",
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
		}
	}

	run, err := s.temporalClient.ExecuteWorkflow(ctx,
		client.StartWorkflowOptions{
			ID:                    workflowID,
			TaskQueue:             constants.TaskQueue,
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
			Memo: map[string]interface{}{
				"workflow_type":   req.Spec.Type,
				"repository_path": req.RepositoryPath,
			},
		},
		workflows.CoordinatorWorkflow,
		workflows.WorkflowInput{
			WorkflowID:     trackingID.String(),
			UserID:         req.UserID,
			Spec:           req.Spec,
			RepositoryPath: req.RepositoryPath,
			AnalysisID:     req.AnalysisID,
			MaxConcurrency: s.effectiveConcurrency(req.MaxConcurrency),
		},
	)
	if err != nil {
		s.logger.Error("Failed to start workflow",
			zap.String("workflow_id", workflowID),
			zap.String("workflow_type", req.Spec.Type),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	if s.dbClient != nil {
		if err := s.dbClient.MarkWorkflowInitiated(ctx, trackingID, run.GetRunID()); err != nil {
			s.logger.Warn("Failed to mark workflow initiated",
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
		}
	}

	metrics.RecordWorkflowStarted(req.Spec.Type)
	s.logger.Info("Workflow submitted",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", run.GetRunID()),
		zap.String("workflow_type", req.Spec.Type),
	)

	return &SubmitResponse{
		Status:          "initiated",
		WorkflowID:      workflowID,
		WorkflowType:    req.Spec.Type,
		ExecutionResult: run.GetRunID(),
		InitiatedAt:     time.Now().UTC(),
	}, nil
}

func specConfig(req SubmitRequest) db.JSONB {
	cfg := db.JSONB{
		"type": req.Spec.Type,
	}
	if req.Spec.Name != "" {
		cfg["name"] = req.Spec.Name
	}
	if req.RepositoryPath != "" {
		cfg["repository_path"] = req.RepositoryPath
	}
	if len(req.Spec.Stages) > 0 {
		cfg["stages"] = taskNames(req.Spec.Stages)
	}
	if len(req.Spec.ParallelTasks) > 0 {
		cfg["parallel_tasks"] = taskNames(req.Spec.ParallelTasks)
	}
	if len(req.Spec.FanOutTasks) > 0 {
		cfg["fan_out_tasks"] = taskNames(req.Spec.FanOutTasks)
		if req.Spec.FanInTask != nil {
			cfg["fan_in_task"] = req.Spec.FanInTask.Task
		}
	}
	if len(req.Spec.HierarchyLevels) > 0 {
		cfg["hierarchy_levels"] = len(req.Spec.HierarchyLevels)
	}
	return cfg
}

func taskNames(tasks []workflows.TaskSpec) []string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Task)
	}
	return names
}

// GetProgress returns one task's progress row, or nil when the task has
// never reported progress.
func (s *CoordinatorService) GetProgress(ctx context.Context, taskID string) (*TaskProgressView, error) {
	if s.progress == nil {
		return nil, fmt.Errorf("progress reader not configured")
	}
	row, err := s.progress.GetTaskProgress(ctx, taskID)
	if err != nil || row == nil {
		return nil, err
	}
	view := taskProgressView(*row)
	return &view, nil
}

// GetWorkflowStatus combines the tracking row, its task progress rows,
// and the live Temporal execution state. Either source alone is enough to
// answer; both missing means the workflow is unknown.
func (s *CoordinatorService) GetWorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatusView, error) {
	trackingID, err := ParseWorkflowID(workflowID)
	if err != nil {
		return nil, err
	}

	view := &WorkflowStatusView{WorkflowID: workflowID}
	found := false

	if s.progress != nil {
		tracking, terr := s.progress.GetWorkflowTracking(ctx, trackingID)
		if terr != nil {
			s.logger.Warn("Workflow tracking lookup failed",
				zap.String("workflow_id", workflowID),
				zap.Error(terr),
			)
		} else if tracking != nil {
			applyTracking(view, tracking)
			found = true
		}

		if tasks, perr := s.progress.ListWorkflowProgress(ctx, trackingID.String()); perr == nil {
			for _, row := range tasks {
				view.Tasks = append(view.Tasks, taskProgressView(row))
			}
		}
		if results, rerr := s.progress.ListAgentResults(ctx, trackingID.String()); rerr == nil {
			for _, row := range results {
				view.Results = append(view.Results, agentResultView(row))
			}
		}
	}

	if s.temporalClient != nil {
		if desc, derr := s.temporalClient.DescribeWorkflowExecution(ctx, workflowID, ""); derr == nil && desc.GetWorkflowExecutionInfo() != nil {
			view.TemporalState = temporalStatusString(desc.GetWorkflowExecutionInfo().GetStatus())
			if view.Status == "" {
				view.Status = view.TemporalState
			}
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	return view, nil
}

// ParseWorkflowID extracts the tracking row UUID from an external
// workflow identifier. Bare UUIDs are accepted too.
func ParseWorkflowID(workflowID string) (uuid.UUID, error) {
	raw := strings.TrimPrefix(workflowID, constants.WorkflowIDPrefix)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("validation error: workflow id %q is not recognized", workflowID)
	}
	return id, nil
}

func temporalStatusString(st enumspb.WorkflowExecutionStatus) string {
	switch st {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return db.WorkflowStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return db.WorkflowStatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "cancelled"
	default:
		return db.WorkflowStatusRunning
	}
}

// Coordination passthroughs. Each guards the nil service so the HTTP
// layer can stay wired even when Redis is down at startup.

// CoordinationStats reports bus statistics.
func (s *CoordinatorService) CoordinationStats(ctx context.Context) (coordination.ServiceStats, error) {
	if s.coord == nil {
		return coordination.ServiceStats{}, fmt.Errorf("coordination service not configured")
	}
	return s.coord.Stats(ctx), nil
}

// EventHistory replays recent events for a repository, newest first.
func (s *CoordinatorService) EventHistory(ctx context.Context, repositoryPath string, limit int64) ([]coordination.Event, error) {
	if s.coord == nil {
		return nil, fmt.Errorf("coordination service not configured")
	}
	return s.coord.GetEventHistory(ctx, repositoryPath, limit), nil
}

// RespondToSync delivers a CLI sync response to its waiter.
func (s *CoordinatorService) RespondToSync(ctx context.Context, syncID string, data map[string]interface{}) error {
	if s.coord == nil {
		return fmt.Errorf("coordination service not configured")
	}
	return s.coord.RespondToSync(ctx, syncID, data)
}

// SubscribeEvents opens a live event channel for a repository topic.
func (s *CoordinatorService) SubscribeEvents(repositoryPath string, buffer int) (chan coordination.Event, error) {
	if s.coord == nil {
		return nil, fmt.Errorf("coordination service not configured")
	}
	return s.coord.SubscribeChannel(repositoryPath, buffer), nil
}

// UnsubscribeEvents closes a channel returned by SubscribeEvents.
func (s *CoordinatorService) UnsubscribeEvents(repositoryPath string, ch chan coordination.Event) {
	if s.coord == nil {
		return
	}
	s.coord.UnsubscribeChannel(repositoryPath, ch)
}
