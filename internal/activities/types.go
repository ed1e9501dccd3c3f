package activities

import (
	"strings"
	"time"
)

// Registered agent task names. Workflow specs reference these in their
// task entries; anything else is rejected as a validation error.
const (
	TaskContentAnalysis          = "content_analysis"
	TaskConversationIntelligence = "conversation_intelligence"
	TaskMediaProcessing          = "media_processing"
	TaskKnowledgeGraphUpdate     = "knowledge_graph_update"
	TaskKnowledgeGraphEnrichment = "knowledge_graph_enrichment"
	TaskCodebaseAnalysis         = "codebase_analysis"
)

// Task terminal statuses.
const (
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// AgentTypeForTask maps a task name to the agent type used for retry
// policy lookup and progress rows. The knowledge graph tasks share one
// policy entry; everything else uses its task name directly.
func AgentTypeForTask(taskName string) string {
	if strings.HasPrefix(taskName, "knowledge_graph") {
		return "knowledge_graph"
	}
	return taskName
}

// AgentTaskInput is one dispatch of a named agent task to the worker.
type AgentTaskInput struct {
	AgentID        string                 `json:"agent_id"`
	TaskName       string                 `json:"task_name"`
	Params         map[string]interface{} `json:"params,omitempty"`
	WorkflowID     string                 `json:"workflow_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	AttemptNumber  int                    `json:"attempt_number"`
	RepositoryPath string                 `json:"repository_path,omitempty"`
	AnalysisID     string                 `json:"analysis_id,omitempty"`
}

// TaskResult is the terminal outcome of one agent task. It flows between
// workflow stages, into synthesis, and into the agent_results table.
type TaskResult struct {
	AgentID    string                 `json:"agent_id"`
	TaskName   string                 `json:"task_name"`
	Status     string                 `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	TokensUsed int                    `json:"tokens_used,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
}

// RetryQuery asks whether a failed attempt may be retried.
type RetryQuery struct {
	AgentType     string `json:"agent_type"`
	ErrorMessage  string `json:"error_message"`
	AttemptNumber int    `json:"attempt_number"`
}

// RetryDecision is the manager's answer, serialized across the activity
// boundary so the workflow can sleep for Delay deterministically.
type RetryDecision struct {
	ShouldRetry bool          `json:"should_retry"`
	Delay       time.Duration `json:"delay"`
	FailureType string        `json:"failure_type"`
	Strategy    string        `json:"strategy"`
	Fallback    bool          `json:"fallback,omitempty"`
}

// RetrySuccess reports a success that followed at least one retry, so the
// adaptive strategies can credit the failure type that was overcome.
type RetrySuccess struct {
	AgentType   string `json:"agent_type"`
	FailureType string `json:"failure_type"`
}

// SynthesisInput is the complete terminal result set of a fan-out batch.
type SynthesisInput struct {
	TaskName       string                 `json:"task_name"`
	WorkflowID     string                 `json:"workflow_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	AgentResults   []TaskResult           `json:"agent_results"`
	RepositoryPath string                 `json:"repository_path,omitempty"`
	AnalysisID     string                 `json:"analysis_id,omitempty"`
}

// SynthesisOutput mirrors the immutable synthesis audit row.
type SynthesisOutput struct {
	Status            string                 `json:"status"`
	SynthesisID       string                 `json:"synthesis_id"`
	SynthesisResult   map[string]interface{} `json:"synthesis_result"`
	AgentsProcessed   int                    `json:"agents_processed"`
	FailedAgents      []string               `json:"failed_agents"`
	OverallConfidence float64                `json:"overall_confidence"`
}

// WorkflowStatusInput transitions the durable workflow tracking row.
// WorkflowType and DurationSeconds accompany terminal transitions so the
// completion metric is recorded activity side, off the replayed path.
type WorkflowStatusInput struct {
	WorkflowID      string  `json:"workflow_id"`
	Status          string  `json:"status"`
	WorkflowType    string  `json:"workflow_type,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// AgentResultInput persists one terminal task outcome to the agent
// results table.
type AgentResultInput struct {
	WorkflowID string     `json:"workflow_id"`
	TaskID     string     `json:"task_id"`
	Result     TaskResult `json:"result"`
}

// TaskProgressInput upserts one task's progress row.
type TaskProgressInput struct {
	TaskID       string                 `json:"task_id"`
	WorkflowID   string                 `json:"workflow_id,omitempty"`
	AgentType    string                 `json:"agent_type"`
	Status       string                 `json:"status"`
	Progress     int                    `json:"progress"`
	CurrentStep  string                 `json:"current_step,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// CoordinationEventInput carries a coordination event emitted from
// workflow code. Publishing is best effort: events without a repository
// path are dropped rather than failing the workflow.
type CoordinationEventInput struct {
	EventType      string                 `json:"event_type"`
	RepositoryPath string                 `json:"repository_path,omitempty"`
	AnalysisID     string                 `json:"analysis_id,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Priority       int                    `json:"priority,omitempty"`
}
