package server

import (
	"time"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
)

// WorkflowStatusView is the API shape for one workflow's combined state:
// the durable tracking row, its task progress rows, persisted agent
// results, and the live Temporal execution status when reachable.
type WorkflowStatusView struct {
	WorkflowID    string             `json:"workflow_id"`
	WorkflowType  string             `json:"workflow_type,omitempty"`
	WorkflowName  string             `json:"workflow_name,omitempty"`
	Status        string             `json:"status"`
	ExecutionID   string             `json:"execution_id,omitempty"`
	TemporalState string             `json:"temporal_state,omitempty"`
	CreatedAt     *time.Time         `json:"created_at,omitempty"`
	UpdatedAt     *time.Time         `json:"updated_at,omitempty"`
	Tasks         []TaskProgressView `json:"tasks,omitempty"`
	Results       []AgentResultView  `json:"results,omitempty"`
}

// TaskProgressView is the API shape of a task progress row.
type TaskProgressView struct {
	TaskID       string                 `json:"task_id"`
	WorkflowID   string                 `json:"workflow_id,omitempty"`
	AgentType    string                 `json:"agent_type"`
	Status       string                 `json:"status"`
	Progress     int                    `json:"progress"`
	CurrentStep  string                 `json:"current_step,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// AgentResultView is the API shape of a persisted agent outcome.
type AgentResultView struct {
	TaskID       string                 `json:"task_id"`
	AgentType    string                 `json:"agent_type"`
	Status       string                 `json:"status"`
	Result       map[string]interface{} `json:"result,omitempty"`
	Confidence   float64                `json:"confidence,omitempty"`
	TokensUsed   int                    `json:"tokens_used,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	DurationMs   int64                  `json:"duration_ms,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

func applyTracking(view *WorkflowStatusView, tracking *db.WorkflowTracking) {
	view.WorkflowType = tracking.WorkflowType
	view.WorkflowName = tracking.WorkflowName
	view.Status = tracking.Status
	if tracking.ExecutionID != nil {
		view.ExecutionID = *tracking.ExecutionID
	}
	created := tracking.CreatedAt
	updated := tracking.UpdatedAt
	view.CreatedAt = &created
	view.UpdatedAt = &updated
}

func taskProgressView(row db.TaskProgress) TaskProgressView {
	view := TaskProgressView{
		TaskID:    row.TaskID,
		AgentType: row.AgentType,
		Status:    row.Status,
		Progress:  row.Progress,
		Result:    row.Result,
		UpdatedAt: row.UpdatedAt,
	}
	if row.WorkflowID != nil {
		view.WorkflowID = *row.WorkflowID
	}
	if row.CurrentStep != nil {
		view.CurrentStep = *row.CurrentStep
	}
	if row.ErrorMessage != nil {
		view.ErrorMessage = *row.ErrorMessage
	}
	return view
}

func agentResultView(row db.AgentResult) AgentResultView {
	view := AgentResultView{
		TaskID:     row.TaskID,
		AgentType:  row.AgentType,
		Status:     row.Status,
		Result:     row.Result,
		Confidence: row.Confidence,
		TokensUsed: row.TokensUsed,
		DurationMs: row.DurationMs,
		CreatedAt:  row.CreatedAt,
	}
	if row.ErrorMessage != nil {
		view.ErrorMessage = *row.ErrorMessage
	}
	return view
}
