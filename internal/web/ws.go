package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/vibekit/internal/store"
)

const (
	wsMaxPayloadBytes = 4 << 10
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// newUpgrader accepts same-origin upgrades, requests without an Origin
// header, and origins listed in allowedOrigins.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 8192,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err == nil && strings.EqualFold(u.Host, r.Host) {
				return true
			}
			return originAllowed(allowedOrigins, origin)
		},
	}
}

// apiSubscribe handles GET /api/projects/{id}/subscribe. The current record
// is sent first, then every change as {action, record}.
func (h *Handler) apiSubscribe(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	project, err := h.config.Projects.Get(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to subscribe")
		return
	}

	// Subscribe before upgrading so no change between the read and the
	// first event is lost.
	events, unsubscribe := h.config.Projects.Subscribe(projectID)
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	initial, err := json.Marshal(map[string]any{"action": "snapshot", "record": project})
	if err != nil {
		h.config.Logger.Error("encode subscription snapshot", "error", err)
		return
	}
	if err := writeFrame(conn, websocket.TextMessage, initial); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.config.Logger.Error("encode subscription event", "error", err)
				continue
			}
			if err := writeFrame(conn, websocket.TextMessage, payload); err != nil {
				return
			}
			if ev.Action == store.ActionDelete {
				_ = writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "deleted"))
				return
			}
		case <-ticker.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames so pongs and close frames are processed,
// and cancels the subscription when the connection goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return conn.WriteMessage(messageType, data)
}
