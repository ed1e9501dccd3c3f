package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_workflows_started_total",
			Help: "Total number of workflows started",
		},
		[]string{"workflow_type"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_workflows_completed_total",
			Help: "Total number of workflows completed",
		},
		[]string{"workflow_type", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prsnl_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_type"},
	)

	// Agent task metrics
	TaskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_task_executions_total",
			Help: "Total number of agent task executions",
		},
		[]string{"agent_type", "status"},
	)

	TaskExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prsnl_task_execution_duration_ms",
			Help:    "Agent task execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"agent_type"},
	)

	TaskTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prsnl_task_tokens_used",
			Help:    "Number of tokens used per agent task",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	// Retry metrics
	RetryDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_retry_decisions_total",
			Help: "Total number of retry decisions",
		},
		[]string{"agent_type", "failure_type", "strategy", "outcome"},
	)

	RetryDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prsnl_retry_delay_seconds",
			Help:    "Computed retry delay in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"agent_type"},
	)

	RetrySuccesses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_retry_successes_total",
			Help: "Total number of successes that followed at least one retry",
		},
		[]string{"agent_type", "failure_type"},
	)

	// Synthesis metrics
	SynthesisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_synthesis_runs_total",
			Help: "Total number of synthesis executions",
		},
		[]string{"status"},
	)

	SynthesisConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prsnl_synthesis_confidence",
			Help:    "Overall confidence of synthesized results",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SynthesisFailedAgents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prsnl_synthesis_failed_agents",
			Help:    "Number of failed agents per synthesis",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	// Coordination metrics
	CoordinationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_coordination_events_total",
			Help: "Total number of coordination events published",
		},
		[]string{"event_type", "source"},
	)

	CoordinationSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prsnl_coordination_subscribers",
			Help: "Number of live event subscriptions",
		},
	)

	CallbackErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prsnl_coordination_callback_errors_total",
			Help: "Total number of subscriber callback errors swallowed by the dispatcher",
		},
	)

	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_sync_requests_total",
			Help: "Total number of sync handshakes by outcome",
		},
		[]string{"outcome"},
	)

	SyncLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prsnl_sync_latency_seconds",
			Help:    "Latency of completed sync handshakes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_lock_acquisitions_total",
			Help: "Total number of distributed lock acquisition attempts",
		},
		[]string{"outcome"},
	)

	// Analysis state cache metrics
	StateCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prsnl_state_cache_hits_total",
			Help: "Total number of analysis state local cache hits",
		},
	)

	StateCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prsnl_state_cache_misses_total",
			Help: "Total number of analysis state local cache misses",
		},
	)

	StateCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prsnl_state_cache_size",
			Help: "Current number of analysis states in the local cache",
		},
	)

	StateCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prsnl_state_cache_evictions_total",
			Help: "Total number of analysis states evicted from the local cache",
		},
	)

	// Database write queue metrics
	DBWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_db_writes_total",
			Help: "Total number of database writes",
		},
		[]string{"write_type", "status"},
	)

	DBWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prsnl_db_write_queue_depth",
			Help: "Current depth of the async database write queue",
		},
	)

	DBSyncFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prsnl_db_sync_fallbacks_total",
			Help: "Writes executed synchronously because the async queue was full",
		},
	)

	// LLM client metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prsnl_llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"status"},
	)

	LLMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prsnl_llm_request_duration_seconds",
			Help:    "LLM completion request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	LLMRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prsnl_llm_rate_limited_total",
			Help: "Requests delayed by the client-side rate limiter",
		},
	)
)

// RecordRetryDecision records one classify-and-decide outcome.
func RecordRetryDecision(agentType, failureType, strategy, outcome string) {
	RetryDecisions.WithLabelValues(agentType, failureType, strategy, outcome).Inc()
}

// RecordRetryDelay records the delay handed back for a retried attempt.
func RecordRetryDelay(agentType string, seconds float64) {
	RetryDelaySeconds.WithLabelValues(agentType).Observe(seconds)
}

// RecordRetrySuccess records a success that followed at least one retry.
func RecordRetrySuccess(agentType, failureType string) {
	RetrySuccesses.WithLabelValues(agentType, failureType).Inc()
}

// RecordWorkflowStarted records a workflow submission.
func RecordWorkflowStarted(workflowType string) {
	WorkflowsStarted.WithLabelValues(workflowType).Inc()
}

// RecordWorkflowCompleted records a finished workflow.
func RecordWorkflowCompleted(workflowType, status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
	WorkflowDuration.WithLabelValues(workflowType).Observe(durationSeconds)
}

// RecordTaskExecution records one agent task attempt outcome.
func RecordTaskExecution(agentType, status string, durationMs float64, tokensUsed int) {
	TaskExecutions.WithLabelValues(agentType, status).Inc()
	TaskExecutionDuration.WithLabelValues(agentType).Observe(durationMs)
	if tokensUsed > 0 {
		TaskTokensUsed.Observe(float64(tokensUsed))
	}
}

// RecordSynthesis records a synthesis run.
func RecordSynthesis(status string, confidence float64, failedAgents int) {
	SynthesisRuns.WithLabelValues(status).Inc()
	SynthesisConfidence.Observe(confidence)
	SynthesisFailedAgents.Observe(float64(failedAgents))
}

// RecordCoordinationEvent records a published coordination event.
func RecordCoordinationEvent(eventType, source string) {
	CoordinationEvents.WithLabelValues(eventType, source).Inc()
}

// RecordSyncRequest records a sync handshake outcome.
func RecordSyncRequest(outcome string, latencySeconds float64) {
	SyncRequests.WithLabelValues(outcome).Inc()
	if latencySeconds > 0 {
		SyncLatency.Observe(latencySeconds)
	}
}

// RecordLockAcquisition records a lock acquisition attempt.
func RecordLockAcquisition(outcome string) {
	LockAcquisitions.WithLabelValues(outcome).Inc()
}

// RecordStateCacheHit records a local cache hit for analysis state.
func RecordStateCacheHit() { StateCacheHits.Inc() }

// RecordStateCacheMiss records a local cache miss for analysis state.
func RecordStateCacheMiss() { StateCacheMisses.Inc() }

// RecordStateCacheEviction records an eviction from the local state cache.
func RecordStateCacheEviction() { StateCacheEvictions.Inc() }

// SetStateCacheSize sets the current local state cache size.
func SetStateCacheSize(n int) { StateCacheSize.Set(float64(n)) }

// RecordDBWrite records a database write outcome.
func RecordDBWrite(writeType, status string) {
	DBWrites.WithLabelValues(writeType, status).Inc()
}

// SetDBWriteQueueDepth sets the current async write queue depth.
func SetDBWriteQueueDepth(n int) { DBWriteQueueDepth.Set(float64(n)) }

// RecordDBSyncFallback records a write that bypassed the full async queue.
func RecordDBSyncFallback() { DBSyncFallbacks.Inc() }

// RecordLLMRequest records an LLM completion request.
func RecordLLMRequest(status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(status).Inc()
	LLMRequestDuration.Observe(durationSeconds)
}
