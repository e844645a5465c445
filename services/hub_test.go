package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, contextID uint) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.RegisterClient(conn, contextID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubScopesEventsByContext(t *testing.T) {
	hub := NewHub(nopLogger())
	go hub.Run()

	scoped := dialHub(t, hub, 5)
	other := dialHub(t, hub, 9)
	all := dialHub(t, hub, 0)
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(SyncEventCopyCreated, MaterializeResult{SeedID: 1, ContextID: 5})
	hub.Publish(SyncEventLedgerPurged, PurgeResult{LedgerRowsRemoved: 2})

	assert.Equal(t, SyncEventCopyCreated, readMessage(t, scoped).Type)
	assert.Equal(t, SyncEventLedgerPurged, readMessage(t, scoped).Type)

	assert.Equal(t, SyncEventLedgerPurged, readMessage(t, other).Type)

	assert.Equal(t, SyncEventCopyCreated, readMessage(t, all).Type)
	assert.Equal(t, SyncEventLedgerPurged, readMessage(t, all).Type)
}

func TestHubAnswersPing(t *testing.T) {
	hub := NewHub(nopLogger())
	go hub.Run()

	conn := dialHub(t, hub, 0)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
