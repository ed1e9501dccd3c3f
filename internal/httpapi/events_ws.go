package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Dev-friendly, secure via proxy in prod
}

// handleWS streams coordination events over a WebSocket.
// GET /events/ws?repository_path=<path>&types=<a,b>&last_event_id=<id>
func (h *EventStreamHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	repositoryPath := r.URL.Query().Get("repository_path")
	if repositoryPath == "" {
		sendError(w, "repository_path required", http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))
	lastEventID := r.URL.Query().Get("last_event_id")

	ch, err := h.svc.SubscribeEvents(repositoryPath, streamBuffer)
	if err != nil {
		sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.svc.UnsubscribeEvents(repositoryPath, ch)
		return
	}
	defer conn.Close()
	defer h.svc.UnsubscribeEvents(repositoryPath, ch)

	// Replay backlog
	if lastEventID != "" {
		for _, ev := range h.missedEvents(r, repositoryPath, lastEventID) {
			if !matchesFilter(ev, typeFilter) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader pump (discard client messages, service pings)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	// Writer pump
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if !matchesFilter(ev, typeFilter) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
				h.logger.Debug("WebSocket ping failed",
					zap.String("repository_path", repositoryPath),
					zap.Error(err),
				)
				return
			}
		}
	}
}
