// Package websocket is a thin observer for admin dashboards: it broadcasts
// gateway lifecycle events to connected clients. The HTTP server sends one
// request_done event per completed request; the project_picked,
// auth_retry and project_disabled event types are defined but nothing in
// the gateway emits them. It is a collaborator, not part of the request
// path — the OpenAI/Gemini surfaces never block on it.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType names the gateway lifecycle events an admin client can observe.
type EventType string

const (
	EventProjectPicked  EventType = "project_picked"
	EventAuthRetry      EventType = "auth_retry"
	EventProjectDisable EventType = "project_disabled"
	EventRequestDone    EventType = "request_done"
)

// Event is one broadcast frame.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Hub fans Broadcast calls out to every connected client.
type Hub struct {
	clients   map[*client]struct{}
	broadcast chan Event
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewHub constructs an idle Hub. Call Run to start the broadcast loop.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Event, 64),
		logger:    logger.With(zap.String("component", "ws-hub")),
	}
}

// Run pumps broadcast events to every connected client until doneCh is
// closed.
func (h *Hub) Run(doneCh <-chan struct{}) {
	for {
		select {
		case <-doneCh:
			return
		case ev := <-h.broadcast:
			ev.Timestamp = time.Now().Unix()
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for delivery, dropping it if the buffer is full.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast buffer full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// ClientCount reports the number of connected admin observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// ServeWS upgrades an HTTP request to a read-only observer connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only watches for client disconnect; observers do not send
// anything the hub acts on.
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}
