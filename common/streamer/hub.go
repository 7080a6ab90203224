// Package streamer is the optional debug event stream: events published on
// the queue's "debug" topic, fanned out over a websocket to any connected
// debugger (spec.md §9, non-critical-path observability).
package streamer

import (
	"sync"

	"github.com/flamehq/flame-node-sdk/common/logger"
)

// Hub fans a single broadcast stream out to every connected debug client.
// Unlike the per-username hub this is adapted from, a node has exactly one
// event stream: every client sees the same feed.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	log *logger.Logger
}

// NewHub creates an unstarted hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		log:        log,
	}
}

// Run processes register/unregister/broadcast events until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.log.Warn("streamer: client send buffer full, dropping event")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues data for delivery to every connected client.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("streamer: broadcast queue full, dropping event")
	}
}

// ConnectionCount returns the number of currently connected debug clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
