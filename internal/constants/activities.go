// Package constants carries the names shared between workflow code,
// activity registration and the worker wiring. Workflows reference
// activities by these names because the activity implementations are
// methods on a receiver constructed at worker startup.
package constants

// Activity names used for registration and execution.
const (
	ExecuteAgentTaskActivity         = "ExecuteAgentTask"
	DecideRetryActivity              = "DecideRetry"
	RecordRetrySuccessActivity       = "RecordRetrySuccess"
	SynthesizeResultsActivity        = "SynthesizeResults"
	RecordWorkflowStatusActivity     = "RecordWorkflowStatus"
	RecordTaskProgressActivity       = "RecordTaskProgress"
	RecordAgentResultActivity        = "RecordAgentResult"
	PublishCoordinationEventActivity = "PublishCoordinationEvent"
)

// TaskQueue is the Temporal task queue the coordinator worker listens on.
const TaskQueue = "prsnl-coordinator"

// WorkflowIDPrefix prefixes every external workflow identifier; the suffix
// is the workflow tracking row UUID.
const WorkflowIDPrefix = "prsnl-wf-"
