package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// JSONBSlice represents a jsonb column holding an array of objects,
// e.g. the raw per-agent results attached to a synthesis record.
type JSONBSlice []map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONBSlice) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONBSlice) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONBSlice", value)
	}

	return json.Unmarshal(bytes, j)
}

// Workflow tracking statuses. A row is inserted as "created" before the
// workflow is submitted to Temporal and moves to "initiated" once the
// execution is accepted; the workflow itself reports the terminal states.
const (
	WorkflowStatusCreated   = "created"
	WorkflowStatusInitiated = "initiated"
	WorkflowStatusRunning   = "running"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"
)

// Task progress statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// WorkflowTracking is the durable record of a submitted workflow. The row id
// is the UUID embedded in the external workflow identifier.
type WorkflowTracking struct {
	ID             uuid.UUID  `db:"id"`
	UserID         *uuid.UUID `db:"user_id"`
	WorkflowName   string     `db:"workflow_name"`
	WorkflowType   string     `db:"workflow_type"`
	WorkflowConfig JSONB      `db:"workflow_config"`
	Status         string     `db:"status"`
	ExecutionID    *string    `db:"execution_id"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// TaskProgress is the upsert row external progress viewers poll. Keyed by
// task_id; repeated writes for the same task update the existing row.
type TaskProgress struct {
	TaskID       string    `db:"task_id"`
	WorkflowID   *string   `db:"workflow_id"`
	AgentType    string    `db:"agent_type"`
	Status       string    `db:"status"`
	Progress     int       `db:"progress"`
	CurrentStep  *string   `db:"current_step"`
	Result       JSONB     `db:"result"`
	ErrorMessage *string   `db:"error_message"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// AgentResult is one agent's outcome within a workflow, persisted for the
// progress/debugging surface.
type AgentResult struct {
	ID           uuid.UUID `db:"id"`
	WorkflowID   string    `db:"workflow_id"`
	TaskID       string    `db:"task_id"`
	AgentType    string    `db:"agent_type"`
	Status       string    `db:"status"`
	Result       JSONB     `db:"result"`
	Confidence   float64   `db:"confidence"`
	TokensUsed   int       `db:"tokens_used"`
	ErrorMessage *string   `db:"error_message"`
	DurationMs   int64     `db:"duration_ms"`
	CreatedAt    time.Time `db:"created_at"`
}

// SynthesisRecord is the immutable audit row written after combining agent
// results, including the agents that failed so partial-failure runs can be
// reconstructed later.
type SynthesisRecord struct {
	ID                uuid.UUID      `db:"id"`
	SynthesisID       string         `db:"synthesis_id"`
	UserID            *uuid.UUID     `db:"user_id"`
	TaskName          string         `db:"task_name"`
	AgentsProcessed   int            `db:"agents_processed"`
	FailedAgents      pq.StringArray `db:"failed_agents"`
	AgentResults      JSONBSlice     `db:"agent_results"`
	SynthesisResult   JSONB          `db:"synthesis_result"`
	OverallConfidence float64        `db:"overall_confidence"`
	CreatedAt         time.Time      `db:"created_at"`
}

// WorkflowStatusUpdate carries an async status transition through the write
// queue.
type WorkflowStatusUpdate struct {
	WorkflowID uuid.UUID
	Status     string
}
