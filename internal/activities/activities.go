// Package activities holds the Temporal activities the coordinator worker
// executes on behalf of workflows: agent task execution against the LLM
// service, retry decisions backed by the process-local retry manager,
// result synthesis, and durable tracking writes.
package activities

import (
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/db"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/llm"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/retry"
)

// SynthesisSettings carries the tunable parts of the synthesis step.
// Zero values fall back to built-in defaults.
type SynthesisSettings struct {
	// MaxTokens bounds the LLM completion for the synthesis narrative.
	MaxTokens int
}

// Activities holds the dependencies activity methods need. One instance is
// constructed at worker startup and registered with the Temporal worker;
// the retry manager inside it is the process-local seat of adaptive and
// circuit-breaker state.
type Activities struct {
	llm      *llm.Client
	coord    *coordination.Service
	dbc      *db.Client
	retries  *retry.Manager
	logger   *zap.Logger
	handlers map[string]taskHandler
	synth    SynthesisSettings
}

// NewActivities creates the activity receiver with its dependencies. The
// coordination service and DB client may be nil; the corresponding
// activities then degrade to logging instead of failing workflows.
func NewActivities(
	llmClient *llm.Client,
	coord *coordination.Service,
	dbClient *db.Client,
	retries *retry.Manager,
	logger *zap.Logger,
) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Activities{
		llm:     llmClient,
		coord:   coord,
		dbc:     dbClient,
		retries: retries,
		logger:  logger,
	}
	a.handlers = map[string]taskHandler{
		TaskContentAnalysis:          a.handleContentAnalysis,
		TaskConversationIntelligence: a.handleConversationIntelligence,
		TaskMediaProcessing:          a.handleMediaProcessing,
		TaskKnowledgeGraphUpdate:     a.handleKnowledgeGraph,
		TaskKnowledgeGraphEnrichment: a.handleKnowledgeGraph,
		TaskCodebaseAnalysis:         a.handleCodebaseAnalysis,
	}
	return a
}

// SetSynthesisSettings applies tunables read at startup. Call before the
// worker starts; the settings are not guarded for concurrent mutation.
func (a *Activities) SetSynthesisSettings(s SynthesisSettings) {
	a.synth = s
}

// synthesisMaxTokens is the effective completion bound for synthesis.
func (a *Activities) synthesisMaxTokens() int {
	if a.synth.MaxTokens > 0 {
		return a.synth.MaxTokens
	}
	return 2000
}
