// Package httpapi exposes the coordinator over REST plus WebSocket/SSE
// event streams: workflow submission and status, task progress, and the
// CLI/web coordination surface. Errors cross the boundary as JSON, never
// as stack traces.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/server"
)

// WorkflowHandler serves workflow submission and progress queries.
type WorkflowHandler struct {
	svc    *server.CoordinatorService
	logger *zap.Logger
}

func NewWorkflowHandler(svc *server.CoordinatorService, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the workflow routes on the provided mux.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.handleSubmit)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.handleStatus)
	mux.HandleFunc("GET /api/v1/tasks/{task_id}/progress", h.handleTaskProgress)
}

// handleSubmit accepts a workflow spec and answers as soon as the
// workflow is initiated; results are polled, never awaited here.
func (h *WorkflowHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req server.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.svc.SubmitWorkflow(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Workflow submission failed",
			zap.String("workflow_type", req.Spec.Type),
			zap.Error(err),
		)
		sendError(w, "failed to submit workflow", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusAccepted, resp)
}

// handleStatus reports a workflow's combined tracking, progress, and
// Temporal state.
func (h *WorkflowHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	view, err := h.svc.GetWorkflowStatus(r.Context(), workflowID)
	if err != nil {
		switch {
		case isValidationError(err):
			sendError(w, err.Error(), http.StatusBadRequest)
		case strings.Contains(err.Error(), "not found"):
			sendError(w, "workflow not found", http.StatusNotFound)
		default:
			h.logger.Error("Workflow status lookup failed",
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
			sendError(w, "failed to get workflow status", http.StatusInternalServerError)
		}
		return
	}

	sendJSON(w, http.StatusOK, view)
}

// handleTaskProgress reports one task's progress row.
func (h *WorkflowHandler) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")

	view, err := h.svc.GetProgress(r.Context(), taskID)
	if err != nil {
		if strings.Contains(err.Error(), "not configured") {
			sendError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Task progress lookup failed",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		sendError(w, "failed to get task progress", http.StatusInternalServerError)
		return
	}
	if view == nil {
		sendError(w, "task progress not found", http.StatusNotFound)
		return
	}

	sendJSON(w, http.StatusOK, view)
}

func isValidationError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "validation error")
}

func sendJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func sendError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
