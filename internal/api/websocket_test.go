package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, mgr SessionManager) string {
	t.Helper()
	e := echo.New()
	SetupMiddleware(e)
	e.GET("/api/ws/sessions/:sessionId", NewWebSocketHandler(mgr, 0).HandleSessionSocket)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sessions/"
}

func readWSMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestWebSocket_CompletedSession(t *testing.T) {
	mgr := NewMockSessionManager()
	mgr.AddSession(completeSession("sess-1"), testPositions())
	url := newWSServer(t, mgr)

	ws, _, err := websocket.DefaultDialer.Dial(url+"sess-1", nil)
	require.NoError(t, err)
	defer ws.Close()

	msg := readWSMessage(t, ws)
	assert.Equal(t, MsgTypeConnected, msg.Type)

	msg = readWSMessage(t, ws)
	require.Equal(t, MsgTypeSession, msg.Type)
	var sess models.ParseSession
	require.NoError(t, json.Unmarshal(msg.Payload, &sess))
	assert.Equal(t, models.SessionStatusComplete, sess.Status)
	assert.Equal(t, 4, sess.PositionCount)

	// The server closes normally once the session is done
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocket_PingPong(t *testing.T) {
	mgr := NewMockSessionManager()
	pending := completeSession("sess-2")
	pending.Status = models.SessionStatusParsing
	mgr.AddSession(pending, nil)
	url := newWSServer(t, mgr)

	ws, _, err := websocket.DefaultDialer.Dial(url+"sess-2", nil)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, MsgTypeConnected, readWSMessage(t, ws).Type)
	assert.Equal(t, MsgTypeSession, readWSMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readWSMessage(t, ws).Type)
	assert.Equal(t, 1, mgr.Touches("sess-2"))

	require.NoError(t, ws.WriteJSON(WSMessage{Type: "subscribe"}))
	msg := readWSMessage(t, ws)
	assert.Equal(t, MsgTypeError, msg.Type)
	assert.Contains(t, string(msg.Payload), "INVALID_TYPE")
}

func TestWebSocket_UnknownSession(t *testing.T) {
	url := newWSServer(t, NewMockSessionManager())

	_, resp, err := websocket.DefaultDialer.Dial(url+"missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
