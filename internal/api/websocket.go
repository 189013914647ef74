package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"promptplay/internal/logging"
	"promptplay/internal/workflow"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameHostOrigin,
}

// sameHostOrigin accepts browser connections only from the host serving the
// playground. Non-browser clients send no Origin header and are let through.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// WebSocketHub fans workflow status changes out to connected playground tabs.
// The clients set is owned by the Run goroutine; handlers hand connections
// over through the register and unregister channels.
type WebSocketHub struct {
	clients    map[*websocket.Conn]struct{}
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	logger     *logging.Logger
}

// NewWebSocketHub creates a hub. Call Run before registering connections.
func NewWebSocketHub(logger *logging.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger.Component("ws"),
	}
}

// Run owns the clients set and serializes all connection membership and
// writes, so no lock is needed.
func (h *WebSocketHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = struct{}{}
			h.logger.Debug("websocket client connected (%d total)", len(h.clients))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.logger.Debug("websocket client disconnected (%d total)", len(h.clients))
			}

		case message := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Debug("dropping websocket client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// BroadcastJSON sends a JSON payload to all connected clients.
func (h *WebSocketHub) BroadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal broadcast payload: %v", err)
		return
	}
	h.broadcast <- data
}

// BroadcastChange relays a tracker transition to all connected clients.
// Wire shape: {type, operation, workflowId, status}.
func (h *WebSocketHub) BroadcastChange(c workflow.Change) {
	h.BroadcastJSON(map[string]interface{}{
		"type":       "WORKFLOW_STATUS",
		"operation":  c.Operation,
		"workflowId": c.WorkflowID,
		"status":     c.Status,
	})
}

// handleWebSocket upgrades the connection and parks a reader that exists
// only to detect the close. Clients receive pushes; they do not send.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	s.wsHub.register <- conn

	go func() {
		defer func() { s.wsHub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
