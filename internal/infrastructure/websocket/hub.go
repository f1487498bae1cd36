// Package websocket hosts the live status hub: connected dashboard clients
// receive a JSON snapshot of each exchange loop at every interval end.
package websocket

import (
	"context"
	"sync"

	"meld_bot/internal/core"
)

// Client is one connected dashboard session. Its send channel is buffered;
// a full buffer marks the client slow and the hub drops it.
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client with the given id
func NewClient(id string) *Client {
	return &Client{
		id:   id,
		send: make(chan Message, 64),
	}
}

// Send queues a message without blocking. False means the client is closed
// or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Recv exposes the queued messages for the write pump
func (c *Client) Recv() <-chan Message {
	return c.send
}

// Close marks the client dead and releases its channel. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans broadcast messages out to every registered client. Slow clients
// are unregistered rather than allowed to stall the broadcast path.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run exits
	mu         sync.RWMutex
	logger     core.ILogger
}

// NewHub creates a hub. The logger may be nil.
func NewHub(logger core.ILogger) *Hub {
	h := &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan Message, 64),
		register:  make(chan *Client),
		// Buffered: a failed delivery queues the drop while the loop is
		// still mid-broadcast.
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	if logger != nil {
		h.logger = logger.WithField("component", "status_hub")
	}
	return h
}

// Run drives the hub until the context ends, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("status client registered", "client_id", client.id, "total_clients", total)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("status client unregistered", "client_id", client.id, "total_clients", total)
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			// Delivery happens outside the lock; a failed send queues the
			// client for unregistration instead of blocking the loop.
			for _, client := range targets {
				if !client.Send(message) {
					select {
					case h.unregister <- client:
					default:
					}
				}
			}
		}
	}
}

// Register adds a client to the broadcast set. After shutdown the client
// is closed instead, so pump goroutines never hang on a stopped hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client from the broadcast set
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every client. A full hub queue drops the
// message; status snapshots are superseded by the next interval anyway.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("status hub queue full, dropping message", "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
