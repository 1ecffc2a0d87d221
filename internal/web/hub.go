package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// broadcastEvents are forwarded from the event bus to websocket clients
var broadcastEvents = map[service.EventType]bool{
	service.EventTypeCaptureStarted:   true,
	service.EventTypeCaptureCompleted: true,
	service.EventTypeCaptureDiscarded: true,
	service.EventTypeSessionReset:     true,
	service.EventTypeCaptureStored:    true,
	service.EventTypeCaptureDeleted:   true,
}

// Message is one websocket frame sent to clients
type Message struct {
	Type      service.EventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      interface{}       `json:"data,omitempty"`
}

// clientQueueSize bounds the messages buffered for one client; a client that
// falls this far behind is dropped
const clientQueueSize = 32

// client is one connection with its own send queue, drained by writePump
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the websocket clients. A single goroutine (Run) registers,
// unregisters and fans messages out to the per-client queues; each client
// has a writer goroutine so a slow connection only delays itself.
type Hub struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	writers    sync.WaitGroup
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewHub creates a hub; call Run to start it
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run serves the hub until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn, c := range h.clients {
				close(c.send)
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			h.writers.Wait()
			return

		case conn := <-h.register:
			c := &client{conn: conn, send: make(chan []byte, clientQueueSize)}
			h.mu.Lock()
			h.clients[conn] = c
			count := len(h.clients)
			h.mu.Unlock()
			h.writers.Add(1)
			go h.writePump(c)
			h.logger.Debug("Websocket client connected", "clients", count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if c, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Websocket client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver queues message for every client without blocking. Clients whose
// queue is full are dropped.
func (h *Hub) deliver(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.logger.Debug("Dropping slow websocket client")
			delete(h.clients, conn)
			close(c.send)
		}
	}
}

// writePump writes queued messages and pings to one connection. It closes
// the connection when the queue is closed or a write fails; the read loop
// in the handler then unregisters it.
func (h *Hub) writePump(c *client) {
	defer h.writers.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(ctx context.Context, client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Unregister removes and closes a client
func (h *Hub) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	case <-ctx.Done():
	}
}

// Broadcast queues a message for every client. It drops the message when
// the queue is full rather than blocking the publisher.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("Failed to encode websocket message", "type", string(msg.Type), "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Websocket broadcast queue full, dropping message", "type", string(msg.Type))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Forward relays capture and storage events from the bus until ctx ends
func (h *Hub) Forward(ctx context.Context, bus *service.EventBus) {
	events := bus.SubscribeAll()
	go func() {
		defer bus.UnsubscribeAll(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if msg, ok := messageFor(ev); ok {
					h.Broadcast(msg)
				}
			}
		}
	}()
}

// messageFor turns a bus event into a client message. Completed captures
// carry the full outcome, without image data.
func messageFor(ev service.Event) (Message, bool) {
	if !broadcastEvents[ev.Type] {
		return Message{}, false
	}

	msg := Message{Type: ev.Type, Timestamp: ev.Timestamp}
	if ev.Type == service.EventTypeCaptureCompleted {
		if outcome, ok := ev.Data["outcome"].(*capture.Outcome); ok {
			msg.Data = newOutcomeResponse(outcome)
			return msg, true
		}
	}
	msg.Data = ev.Data
	return msg, true
}
