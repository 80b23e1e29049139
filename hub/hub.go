// Package hub maintains per-board rooms of live connections and fans
// canonical events out to room members. Room membership is owned by a single
// mutex-disciplined structure; join and leave are safe under concurrent calls
// from many connections.
package hub

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// sendBuffer bounds the per-connection outbox. A member that cannot drain its
// buffer loses events and recovers through resync, like any reconnecting
// client.
const sendBuffer = 64

// Conn is one live subscriber connection.
type Conn struct {
	ID   string
	send chan []byte
}

// Events is the stream of payloads queued for this connection.
func (c *Conn) Events() <-chan []byte {
	return c.send
}

// Hub tracks connections and board rooms.
type Hub struct {
	logger *log.Logger

	mu    sync.Mutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn
}

// New creates an empty hub.
func New(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
	}
}

// Register adds a connection. An empty id gets a generated one. Registering
// an id that is already live replaces the old connection, which then drains
// and closes.
func (h *Hub) Register(connID string) *Conn {
	if connID == "" {
		connID = uuid.NewString()
	}
	conn := &Conn{ID: connID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if old, ok := h.conns[connID]; ok {
		h.dropLocked(old)
	}
	h.conns[connID] = conn
	h.mu.Unlock()
	return conn
}

// Unregister releases all room memberships for the connection and closes its
// event stream. Safe to call for an unknown or already-released id.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[connID]; ok {
		h.dropLocked(conn)
	}
}

func (h *Hub) dropLocked(conn *Conn) {
	for boardID, members := range h.rooms {
		if members[conn.ID] == conn {
			delete(members, conn.ID)
			if len(members) == 0 {
				delete(h.rooms, boardID)
			}
		}
	}
	if h.conns[conn.ID] == conn {
		delete(h.conns, conn.ID)
	}
	close(conn.send)
}

// Join adds the connection to a board room. Re-joining the same board is a
// no-op; at most one membership per board exists per connection.
func (h *Hub) Join(connID, boardID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, domain.ErrNotFound)
	}
	members, ok := h.rooms[boardID]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[boardID] = members
	}
	members[connID] = conn
	return nil
}

// Leave removes the connection from a board room. Unknown memberships are
// ignored.
func (h *Hub) Leave(connID, boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[boardID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, boardID)
		}
	}
}

// Broadcast queues the payload for every member of the board's room except
// excludeConnID. The hub preserves the order payloads are handed to it; a
// full member buffer drops the payload for that member only.
func (h *Hub) Broadcast(boardID string, payload []byte, excludeConnID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.rooms[boardID] {
		if id == excludeConnID {
			continue
		}
		select {
		case conn.send <- payload:
		default:
			h.logger.WithFields(log.Fields{
				"connection": id,
				"board":      boardID,
			}).Debug("subscriber buffer full, dropping event")
		}
	}
}

// RoomSize reports the current number of members in a board room.
func (h *Hub) RoomSize(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[boardID])
}
