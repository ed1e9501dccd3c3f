package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/server"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// CoordinationHandler serves the CLI/web coordination surface: bus
// statistics, event history replay, and sync responses from the CLI.
type CoordinationHandler struct {
	svc    *server.CoordinatorService
	logger *zap.Logger
}

func NewCoordinationHandler(svc *server.CoordinatorService, logger *zap.Logger) *CoordinationHandler {
	return &CoordinationHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the coordination routes on the provided mux.
func (h *CoordinationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/coordination/stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/coordination/events", h.handleEventHistory)
	mux.HandleFunc("POST /api/v1/coordination/sync/{sync_id}", h.handleSyncResponse)
}

func (h *CoordinationHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CoordinationStats(r.Context())
	if err != nil {
		sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

// handleEventHistory replays recent events for a repository, newest first.
// GET /api/v1/coordination/events?repository_path=<path>&limit=<n>
func (h *CoordinationHandler) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	repositoryPath := r.URL.Query().Get("repository_path")
	if repositoryPath == "" {
		sendError(w, "repository_path required", http.StatusBadRequest)
		return
	}

	limit := int64(defaultHistoryLimit)
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n < 1 {
			sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	events, err := h.svc.EventHistory(r.Context(), repositoryPath, limit)
	if err != nil {
		sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"repository_path": repositoryPath,
		"count":           len(events),
		"events":          events,
	})
}

// handleSyncResponse delivers a CLI sync payload to the waiter blocked in
// SyncCLIResults. POST /api/v1/coordination/sync/{sync_id}
func (h *CoordinationHandler) handleSyncResponse(w http.ResponseWriter, r *http.Request) {
	syncID := r.PathValue("sync_id")

	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.svc.RespondToSync(r.Context(), syncID, data); err != nil {
		if strings.Contains(err.Error(), "not configured") {
			sendError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Sync response delivery failed",
			zap.String("sync_id", syncID),
			zap.Error(err),
		)
		sendError(w, "failed to deliver sync response", http.StatusBadGateway)
		return
	}

	sendJSON(w, http.StatusOK, map[string]string{
		"status":  "delivered",
		"sync_id": syncID,
	})
}
