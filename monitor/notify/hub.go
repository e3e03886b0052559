// Package notify fans processed-order notifications out to WebSocket
// subscribers. A single tail loop pops the shared notification queue and
// broadcasts each payload to every connected client.
package notify

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/ordermon/monitor/cache"
)

const (
	maxConnections = 200
	writeTimeout   = 5 * time.Second
	idlePollDelay  = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients connect cross-origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub manages WebSocket connections and broadcasts notification payloads.
// Single tail loop prevents N clients popping the queue against each other.
type Hub struct {
	cache cache.Gateway

	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a hub tailing the shared notification queue.
func NewHub(c cache.Gateway) *Hub {
	return &Hub{
		cache:      c,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run owns the client set and the queue tail until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	timer := time.NewTimer(idlePollDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("notify: connection rejected, cap of %d reached", maxConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("notify: client registered, total %d", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("notify: client unregistered, total %d", total)

		case <-timer.C:
			h.drain(ctx)
			timer.Reset(idlePollDelay)
		}
	}
}

// drain pops every queued notification and broadcasts it. Nothing is popped
// while no client is connected, so notifications wait for a subscriber.
func (h *Hub) drain(ctx context.Context) {
	if h.ClientCount() == 0 {
		return
	}
	for {
		payload, ok := h.cache.PopQueue(ctx, cache.QueueNotifications)
		if !ok {
			return
		}
		h.broadcast(payload)
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		// Write deadline keeps a dead connection from stalling the tail.
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("notify: write: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("notify: shutting down hub with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and parks a read pump that only exists to
// notice the peer going away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: upgrade: %v", err)
		return
	}
	h.Register(conn)

	go func() {
		defer h.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
