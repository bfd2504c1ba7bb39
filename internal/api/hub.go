package api

import (
	"log"
	"sync"

	"tool-factory/internal/orchestrator"

	"github.com/gorilla/websocket"
)

// Hub fans orchestrator run events out to connected websocket clients.
// It implements orchestrator.EventSink.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Publish broadcasts one run event to every connected client. Dead
// connections are dropped on write failure.
func (h *Hub) Publish(event orchestrator.RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Dropping websocket client: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
	}
}
