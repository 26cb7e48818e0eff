// Package ws streams accepted readings to dashboard subscribers over
// websockets. Subscriptions are keyed by user ID; a reading fans out to
// every open socket of the owning user.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"skycast/internal/domain"
	"skycast/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const clientBuffer = 16

// Hub tracks connected clients per user.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs a Hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origin policy is enforced by the CORS middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Serve upgrades the request and registers the socket under the given user.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients[userID], c)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
	h.mu.Unlock()

	close(c.send)
}

// PublishReading fans a reading out to the owning user's sockets. Unowned
// devices have no subscribers. Slow clients are skipped, not waited on.
func (h *Hub) PublishReading(reading *domain.Reading) {
	if reading.UserID == nil {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":    "weather-update",
		"reading": reading,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[*reading.UserID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (c *client) readPump() {
	// Inbound frames are ignored; the feed is one-way
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

func (c *client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}
