package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/activities"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/constants"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/llm"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/retry"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/workflows"
)

// CoordinatorRegistry implements the Registry interface for the
// coordinator worker. It holds the process-level dependencies and hands
// them to the activity receiver at registration time.
type CoordinatorRegistry struct {
	logger  *zap.Logger
	llm     *llm.Client
	coord   *coordination.Service
	dbc     *db.Client
	retries *retry.Manager
	synth   activities.SynthesisSettings
}

// NewCoordinatorRegistry creates a new registry instance. The coordination
// service and DB client may be nil when those backends are unavailable;
// the activities degrade gracefully.
func NewCoordinatorRegistry(
	logger *zap.Logger,
	llmClient *llm.Client,
	coord *coordination.Service,
	dbClient *db.Client,
	retries *retry.Manager,
) *CoordinatorRegistry {
	return &CoordinatorRegistry{
		logger:  logger,
		llm:     llmClient,
		coord:   coord,
		dbc:     dbClient,
		retries: retries,
	}
}

// SetSynthesisSettings records synthesis tunables to apply when the
// activity receiver is constructed. Call before RegisterActivities.
func (r *CoordinatorRegistry) SetSynthesisSettings(s activities.SynthesisSettings) {
	r.synth = s
}

// RegisterWorkflows registers every workflow the worker serves. All
// coordination patterns route through the single coordinator workflow.
func (r *CoordinatorRegistry) RegisterWorkflows(w worker.Worker) error {
	w.RegisterWorkflow(workflows.CoordinatorWorkflow)

	r.logger.Info("Registered workflows",
		zap.String("task_queue", constants.TaskQueue),
	)
	return nil
}

// RegisterActivities constructs the activity receiver and registers each
// activity under the stable name workflows call it by. Method values lose
// their receiver name during registration, so every registration pins the
// name explicitly.
func (r *CoordinatorRegistry) RegisterActivities(w worker.Worker) error {
	acts := activities.NewActivities(r.llm, r.coord, r.dbc, r.retries, r.logger)
	acts.SetSynthesisSettings(r.synth)

	w.RegisterActivityWithOptions(acts.ExecuteAgentTask, activity.RegisterOptions{Name: constants.ExecuteAgentTaskActivity})
	w.RegisterActivityWithOptions(acts.DecideRetry, activity.RegisterOptions{Name: constants.DecideRetryActivity})
	w.RegisterActivityWithOptions(acts.RecordRetrySuccess, activity.RegisterOptions{Name: constants.RecordRetrySuccessActivity})
	w.RegisterActivityWithOptions(acts.SynthesizeResults, activity.RegisterOptions{Name: constants.SynthesizeResultsActivity})
	w.RegisterActivityWithOptions(acts.RecordWorkflowStatus, activity.RegisterOptions{Name: constants.RecordWorkflowStatusActivity})
	w.RegisterActivityWithOptions(acts.RecordTaskProgress, activity.RegisterOptions{Name: constants.RecordTaskProgressActivity})
	w.RegisterActivityWithOptions(acts.RecordAgentResult, activity.RegisterOptions{Name: constants.RecordAgentResultActivity})
	w.RegisterActivityWithOptions(acts.PublishCoordinationEvent, activity.RegisterOptions{Name: constants.PublishCoordinationEventActivity})

	r.logger.Info("Registered activities")
	return nil
}
