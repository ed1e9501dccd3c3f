// Package coordination provides the CLI/web coordination layer over Redis:
// pub/sub events with a capped replay stream, shared analysis state,
// distributed locks, and a request/reply sync handshake.
package coordination

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a coordination event on the repository topic.
type EventType string

const (
	EventAnalysisStarted   EventType = "analysis_started"
	EventAnalysisProgress  EventType = "analysis_progress"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisFailed    EventType = "analysis_failed"
	EventCLIToolStarted    EventType = "cli_tool_started"
	EventCLIToolCompleted  EventType = "cli_tool_completed"
	EventSyncRequest       EventType = "sync_request"
	EventSyncResponse      EventType = "sync_response"
	EventKnowledgeUpdate   EventType = "knowledge_update"
	EventInsightGenerated  EventType = "insight_generated"
)

// Source identifies which process published an event.
type Source string

const (
	SourceCLI    Source = "cli"
	SourceWeb    Source = "web"
	SourceWorker Source = "worker"
)

// Event priorities. 1 is highest.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// Event is a coordination message published to a repository topic and
// appended to that repository's replay stream. Immutable once published.
type Event struct {
	EventType      EventType              `json:"event_type"`
	EventID        string                 `json:"event_id"`
	RepositoryPath string                 `json:"repository_path"`
	AnalysisID     string                 `json:"analysis_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Source         Source                 `json:"source"`
	Priority       int                    `json:"priority"`
}

// Marshal returns the JSON encoding for pub/sub payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// EventCallback receives events for a subscribed repository. Callbacks run
// on the dispatcher goroutine; panics are recovered and logged.
type EventCallback func(Event)

// SyncResponse is the reply side of the sync handshake. Status is
// "completed" when a responder answered, "timeout" when the window expired,
// "error" when the request could not be published.
type SyncResponse struct {
	SyncID      string                 `json:"sync_id"`
	Status      string                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	RespondedAt time.Time              `json:"responded_at,omitempty"`
}

const (
	eventChannelPrefix  = "events:"
	eventStreamPrefix   = "events:log:"
	syncResponsePrefix  = "sync:response:"
	syncPendingPrefix   = "sync:pending:"
	lockKeyPrefix       = "lock:"
	analysisStatePrefix = "analysis:state:"
	analysisRepoPrefix  = "analysis:repo:"
)

// EventChannel returns the pub/sub topic for a repository.
func EventChannel(repositoryPath string) string {
	return eventChannelPrefix + repositoryPath
}

func eventStreamKey(repositoryPath string) string {
	return eventStreamPrefix + repositoryPath
}

func syncResponseKey(syncID string) string {
	return syncResponsePrefix + syncID
}

func syncPendingKey(syncID string) string {
	return syncPendingPrefix + syncID
}

func lockKey(resourceName string) string {
	return fmt.Sprintf("%s%s", lockKeyPrefix, resourceName)
}

func clampPriority(p int) int {
	if p < PriorityHigh {
		return PriorityNormal
	}
	if p > PriorityLow {
		return PriorityLow
	}
	return p
}
