package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/server"
)

const (
	streamBuffer       = 256
	sseHeartbeat       = 15 * time.Second
	replayHistoryLimit = 500
)

// EventStreamHandler serves the live coordination event stream for a
// repository over SSE and WebSocket. Both transports deliver the same
// events; subscribers that connect after a publish replay missed events
// with last_event_id.
type EventStreamHandler struct {
	svc    *server.CoordinatorService
	logger *zap.Logger
}

func NewEventStreamHandler(svc *server.CoordinatorService, logger *zap.Logger) *EventStreamHandler {
	return &EventStreamHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the stream routes on the provided mux.
func (h *EventStreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /events/sse", h.handleSSE)
	mux.HandleFunc("GET /events/ws", h.handleWS)
}

// handleSSE streams coordination events via Server-Sent Events.
// GET /events/sse?repository_path=<path>&types=<a,b>&last_event_id=<id>
func (h *EventStreamHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	repositoryPath := r.URL.Query().Get("repository_path")
	if repositoryPath == "" {
		sendError(w, "repository_path required", http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("last_event_id")
	}

	ch, err := h.svc.SubscribeEvents(repositoryPath, streamBuffer)
	if err != nil {
		sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.svc.UnsubscribeEvents(repositoryPath, ch)

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, ": connected to repository %s\n\n", repositoryPath)
	flusher.Flush()

	// Replay backlog since the last seen event (best-effort)
	if lastEventID != "" {
		for _, ev := range h.missedEvents(r, repositoryPath, lastEventID) {
			if !matchesFilter(ev, typeFilter) {
				continue
			}
			writeSSEEvent(w, ev)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected",
				zap.String("repository_path", repositoryPath),
			)
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if !matchesFilter(ev, typeFilter) {
				continue
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		case <-hb.C:
			// Keeps connections alive through proxies.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// missedEvents returns the events published after lastEventID, oldest
// first. When the marker has already left the capped history, everything
// still retained is replayed rather than silently dropped.
func (h *EventStreamHandler) missedEvents(r *http.Request, repositoryPath, lastEventID string) []coordination.Event {
	history, err := h.svc.EventHistory(r.Context(), repositoryPath, replayHistoryLimit)
	if err != nil {
		return nil
	}
	// History arrives newest first; walk it backwards to emit in publish order.
	var missed []coordination.Event
	for _, ev := range history {
		if ev.EventID == lastEventID {
			break
		}
		missed = append(missed, ev)
	}
	for i, j := 0, len(missed)-1; i < j; i, j = i+1, j-1 {
		missed[i], missed[j] = missed[j], missed[i]
	}
	return missed
}

func writeSSEEvent(w http.ResponseWriter, ev coordination.Event) {
	if ev.EventID != "" {
		fmt.Fprintf(w, "id: %s\n", ev.EventID)
	}
	if ev.EventType != "" {
		fmt.Fprintf(w, "event: %s\n", ev.EventType)
	}
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}

func parseTypeFilter(raw string) map[string]struct{} {
	filter := map[string]struct{}{}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

func matchesFilter(ev coordination.Event, filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[string(ev.EventType)]
	return ok
}
