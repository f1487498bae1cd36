package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meld_bot/internal/core"
	"meld_bot/internal/infrastructure/health"
	ws "meld_bot/internal/infrastructure/websocket"
	"meld_bot/pkg/logging"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func monitorServer(t *testing.T, hm core.IHealthMonitor, hub *ws.Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(0, testLogger(t), hm, hub).routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpointReportsComponents(t *testing.T) {
	hm := health.NewManager(nil)
	hm.Register("loop", func() error { return nil })
	srv := monitorServer(t, hm, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])

	components, ok := payload["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Healthy", components["loop"])
}

func TestHealthEndpointSignalsUnhealthy(t *testing.T) {
	hm := health.NewManager(nil)
	hm.Register("venue", func() error { return errors.New("breaker open") })
	srv := monitorServer(t, hm, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "unhealthy", payload["status"])

	components, ok := payload["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, components["venue"], "breaker open")
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	srv := monitorServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusStreamSharesMonitorPort(t *testing.T) {
	hub := ws.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := monitorServer(t, nil, hub)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	hub.Broadcast(ws.Message{Type: ws.TypeStatus, Data: map[string]interface{}{"exchange": "FMFW"}})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got ws.Message
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, ws.TypeStatus, got.Type)
}

func TestStatusStreamDisabledWithoutHub(t *testing.T) {
	srv := monitorServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
