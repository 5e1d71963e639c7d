package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"pairchat/internal/models"
	"pairchat/internal/observability"
)

// Hub routes chat-scoped events to the connections subscribed to a chat room.
// Delivery is best effort to whoever is subscribed at broadcast time.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[int]map[string]Conn
	memberships map[string]map[int]struct{}
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[int]map[string]Conn),
		memberships: make(map[string]map[int]struct{}),
		logger:      logger,
	}
}

// Join subscribes conn to a chat room. It returns false when conn was
// already subscribed.
func (h *Hub) Join(chatID int, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[string]Conn)
		h.rooms[chatID] = room
	}
	if _, exists := room[conn.ID()]; exists {
		return false
	}
	room[conn.ID()] = conn

	joined, ok := h.memberships[conn.ID()]
	if !ok {
		joined = make(map[int]struct{})
		h.memberships[conn.ID()] = joined
	}
	joined[chatID] = struct{}{}
	return true
}

// Leave unsubscribes conn from a chat room.
func (h *Hub) Leave(chatID int, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(chatID, conn.ID())
}

// Detach removes conn from every room it joined.
func (h *Hub) Detach(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID := range h.memberships[conn.ID()] {
		h.leaveLocked(chatID, conn.ID())
	}
	delete(h.memberships, conn.ID())
}

func (h *Hub) leaveLocked(chatID int, connID string) {
	if room, ok := h.rooms[chatID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	if joined, ok := h.memberships[connID]; ok {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(h.memberships, connID)
		}
	}
}

// Broadcast sends event to every connection in the room and returns how many
// accepted it. Connections that fail are closed and detached.
func (h *Hub) Broadcast(chatID int, event models.Event) int {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.rooms[chatID]))
	for _, conn := range h.rooms[chatID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return 0
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal room event", zap.String("type", event.Type), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			h.logger.Warn("websocket write error",
				zap.Int("chat_id", chatID),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
			observability.IncWSEvent(observability.WSKind, "ws_error")
			conn.Close()
			h.Detach(conn)
			continue
		}
		delivered++
	}
	return delivered
}

// RoomSize returns the number of connections subscribed to a chat.
func (h *Hub) RoomSize(chatID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}
