package websocket

import (
	"net/http"
	"sync"
	"time"

	"meld_bot/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Handler returns the /ws endpoint: it upgrades the connection, registers
// the client with the hub and pumps broadcasts until either side closes.
// The monitor port is an operator surface, so origins are not filtered;
// bind it to loopback when that matters.
func Handler(hub *Hub, logger core.ILogger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.Warn("websocket upgrade failed", "error", err)
			}
			return
		}

		client := NewClient(uuid.New().String())
		hub.Register(client)
		if logger != nil {
			logger.Info("status client connected", "client_id", client.id, "remote_addr", r.RemoteAddr)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			writePump(conn, client)
		}()
		go func() {
			defer wg.Done()
			readPump(conn, hub, client)
		}()
		wg.Wait()

		hub.Unregister(client)
		conn.Close()
		if logger != nil {
			logger.Info("status client disconnected", "client_id", client.id)
		}
	}
}

// writePump forwards hub messages to the connection and keeps it alive
// with pings. Closing the connection on exit unblocks the read pump when
// the hub shuts down first.
func writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case msg, ok := <-client.Recv():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection. Clients never send data; the read loop
// exists to notice disconnects and answer pings.
func readPump(conn *websocket.Conn, hub *Hub, client *Client) {
	defer hub.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
