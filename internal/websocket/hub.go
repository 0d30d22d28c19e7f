package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a live feed notification for one business's dashboards.
type Message struct {
	Type       string         `json:"type"`
	Entity     string         `json:"entity"`
	Action     string         `json:"action"`
	BusinessID string         `json:"business_id"`
	ID         string         `json:"id,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, businessID, id string, extra map[string]any) Message {
	return Message{
		Type:       fmt.Sprintf("%s_%s", entity, action),
		Entity:     entity,
		Action:     action,
		BusinessID: businessID,
		ID:         id,
		Extra:      extra,
	}
}

// Hub tracks connected clients per business and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to its business's room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room, ok := h.clients[c.businessID]
	if !ok {
		room = make(map[*Client]struct{})
		h.clients[c.businessID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if room, ok := h.clients[c.businessID]; ok {
		if _, ok := room[c]; ok {
			delete(room, c)
			close(c.send)
		}
		if len(room) == 0 {
			delete(h.clients, c.businessID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client watching msg.BusinessID.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[msg.BusinessID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the claim path
		}
	}
}

// ClientCount returns the number of connected clients across all businesses.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.clients {
		n += len(room)
	}
	return n
}

// Watching returns the number of clients subscribed to businessID.
func (h *Hub) Watching(businessID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[businessID])
}
