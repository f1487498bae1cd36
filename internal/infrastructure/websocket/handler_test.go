package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(Handler(hub, nil))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandlerRegistersDialedClient(t *testing.T) {
	hub := startHub(t)
	conn := dialTestServer(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		5*time.Second, time.Millisecond)
}

func TestHandlerDeliversBroadcastAsJSON(t *testing.T) {
	hub := startHub(t)
	conn := dialTestServer(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	hub.Broadcast(Message{
		Type: TypeStatus,
		Data: map[string]interface{}{"exchange": "FMFW", "market_ready": "READY"},
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Message
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, TypeStatus, got.Type)
	data, ok := got.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "FMFW", data["exchange"])
	assert.Equal(t, "READY", data["market_ready"])
}

func TestHandlerHubShutdownClosesConnection(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := dialTestServer(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	cancel()

	// The write pump observes the closed send channel and tears the
	// connection down; the client read then fails.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
