// Package hub provides connection management for WebSocket subscribers.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("connection send buffer full")

// Connection represents a single WebSocket connection subscribed to a deal.
type Connection struct {
	ID     string
	DealID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Close closes the underlying WebSocket connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Hub manages all WebSocket connections.
type Hub struct {
	connections map[string]*Connection

	// deal_id -> ids of the connections subscribed to it
	deals map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *dealMessage

	mu sync.RWMutex
}

type dealMessage struct {
	DealID string
	Data   []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		deals:       make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *dealMessage, 256),
	}
}

// Run processes register, unregister, and broadcast requests until the
// process exits. It must run on its own goroutine before any connection
// is registered.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.add(conn)
		case conn := <-h.unregister:
			h.remove(conn)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	if conn.DealID != "" {
		subs := h.deals[conn.DealID]
		if subs == nil {
			subs = make(map[string]bool)
			h.deals[conn.DealID] = subs
		}
		subs[conn.ID] = true
	}
	h.mu.Unlock()
	log.Printf("subscriber %s joined deal %s", conn.ID, conn.DealID)
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	_, known := h.connections[conn.ID]
	if known {
		delete(h.connections, conn.ID)
		if subs := h.deals[conn.DealID]; subs != nil {
			delete(subs, conn.ID)
			if len(subs) == 0 {
				delete(h.deals, conn.DealID)
			}
		}
		close(conn.Send)
	}
	h.mu.Unlock()
	if known {
		log.Printf("subscriber %s left deal %s", conn.ID, conn.DealID)
	}
}

func (h *Hub) deliver(msg *dealMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.deals[msg.DealID] {
		conn, ok := h.connections[connID]
		if !ok {
			continue
		}
		select {
		case conn.Send <- msg.Data:
		default:
			// A stalled writer must not block delivery to the rest of
			// the deal's subscribers; drop it.
			log.Printf("WARN: subscriber %s cannot keep up, dropping", connID)
			go h.Unregister(conn)
		}
	}
}

// NewConnection creates a new connection bound to a deal.
func (h *Hub) NewConnection(ws *websocket.Conn, dealID string) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		DealID: dealID,
		Conn:   ws,
		Send:   make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Broadcast sends a message to all connections subscribed to a deal.
func (h *Hub) Broadcast(dealID string, data []byte) {
	h.broadcast <- &dealMessage{
		DealID: dealID,
		Data:   data,
	}
}

// BroadcastJSON sends a JSON message to all connections subscribed to a deal.
func (h *Hub) BroadcastJSON(dealID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(dealID, data)
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
