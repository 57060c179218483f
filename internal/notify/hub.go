package notify

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"listing-core/internal/events"
)

// Hub broadcasts notifications to connected operator consoles over
// websocket. Each client gets a buffered send queue; a client that stops
// draining is disconnected rather than allowed to stall the hub.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan events.PositionUpdate
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Register adopts an upgraded websocket connection and starts its writer.
// The hub owns the connection from here on.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan events.PositionUpdate, 64),
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Notify implements Notifier: non-blocking broadcast to all clients.
func (h *Hub) Notify(u events.PositionUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- u:
		default:
			// Client is not draining; cut it loose.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected consoles.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for u := range c.send {
		if err := c.conn.WriteJSON(u); err != nil {
			log.Printf("ws write error: %v", err)
			h.drop(c)
			return
		}
	}
}

// readLoop discards inbound frames; its job is detecting disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}
