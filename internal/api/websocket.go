package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the session push protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeSession   = "session"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// DefaultWSMaxMessageSize bounds client messages when no limit is configured.
const DefaultWSMaxMessageSize = 64 * 1024

const wsWriteTimeout = 10 * time.Second

// WSMessage is the envelope of every WebSocket message
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error message
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes parse session snapshots to WebSocket clients
type WebSocketHandler struct {
	sessionMgr     SessionManager
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

// NewWebSocketHandler creates a new WebSocket handler. maxMessageSize limits
// incoming client messages in bytes.
func NewWebSocketHandler(sessionMgr SessionManager, maxMessageSize int64) *WebSocketHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultWSMaxMessageSize
	}
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		maxMessageSize: maxMessageSize,
	}
}

// wsConn serialises writes; the read loop answers pings concurrently with
// session pushes.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) sendError(message, code string) error {
	return c.send(WSMessage{
		Type:    MsgTypeError,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text),
		time.Now().Add(wsWriteTimeout))
}

// HandleSessionSocket streams snapshots of one session until it completes or
// fails, then closes the connection normally. A client "ping" is answered
// with "pong" and keeps the session alive.
func (wsh *WebSocketHandler) HandleSessionSocket(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	// Subscribe before upgrading so unknown sessions get a plain 404
	updates, cancel, err := wsh.sessionMgr.Subscribe(id)
	if err != nil {
		return sessionError(id, err)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsh.maxMessageSize)

	conn := &wsConn{ws: ws}
	fmt.Printf("[WebSocket] Client connected for session %s\n", shortSessionID(id))

	conn.send(WSMessage{Type: MsgTypeConnected, ID: id})

	closed := make(chan struct{})
	go wsh.readLoop(conn, id, closed)

	for {
		select {
		case sess, ok := <-updates:
			if !ok {
				conn.close(websocket.CloseNormalClosure, "session closed")
				return nil
			}
			if err := conn.send(WSMessage{Type: MsgTypeSession, ID: id, Payload: mustJSON(sess)}); err != nil {
				fmt.Printf("[WebSocket] Write error: %v\n", err)
				return nil
			}
			if sess.Done() {
				conn.close(websocket.CloseNormalClosure, string(sess.Status))
				return nil
			}

		case <-closed:
			fmt.Printf("[WebSocket] Client disconnected from session %s\n", shortSessionID(id))
			return nil
		}
	}
}

func (wsh *WebSocketHandler) readLoop(conn *wsConn, id string, closed chan<- struct{}) {
	defer close(closed)

	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.sessionMgr.TouchSession(id)
			conn.send(WSMessage{Type: MsgTypePong, ID: id})
		default:
			conn.sendError("Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func shortSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
