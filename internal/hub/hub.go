package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	models "github.com/CodeAndHammer/kasvorto/internal/models"
	util "github.com/CodeAndHammer/kasvorto/internal/util"
)

// client pairs a connection with its participant binding. writeMu serializes
// writers; gorilla connections allow only one concurrent writer.
type client struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	participant *models.Participant
}

// Hub is the connection registry and session-scoped fanout coordinator.
// A connection receives messages only for the session it is bound to.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]*client
	sessions map[string]map[*websocket.Conn]*client
}

func New() *Hub {
	return &Hub{
		clients:  make(map[*websocket.Conn]*client),
		sessions: make(map[string]map[*websocket.Conn]*client),
	}
}

// Bind records the connection as a participant of gameID. A connection holds
// at most one binding; rebinding replaces the previous one.
func (h *Hub) Bind(conn *websocket.Conn, gameID, name, color string) *models.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[conn]; ok {
		h.detachLocked(conn, existing)
	}

	p := &models.Participant{
		ConnID: uuid.NewString(),
		GameID: gameID,
		Name:   name,
		Color:  color,
	}
	cl := &client{conn: conn, participant: p}
	h.clients[conn] = cl

	group := h.sessions[gameID]
	if group == nil {
		group = make(map[*websocket.Conn]*client)
		h.sessions[gameID] = group
	}
	group[conn] = cl
	return p
}

func (h *Hub) Lookup(conn *websocket.Conn) (*models.Participant, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.clients[conn]
	if !ok {
		return nil, false
	}
	return cl.participant, true
}

// Unbind drops the connection from the registry. Session state is untouched;
// a disconnect never affects other participants.
func (h *Hub) Unbind(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.clients[conn]
	if !ok {
		return
	}
	h.detachLocked(conn, cl)
}

func (h *Hub) detachLocked(conn *websocket.Conn, cl *client) {
	delete(h.clients, conn)
	group := h.sessions[cl.participant.GameID]
	if group != nil {
		delete(group, conn)
		if len(group) == 0 {
			delete(h.sessions, cl.participant.GameID)
		}
	}
}

// Send delivers a payload to a single bound connection.
func (h *Hub) Send(conn *websocket.Conn, payload any) {
	h.mu.Lock()
	cl, ok := h.clients[conn]
	h.mu.Unlock()
	if !ok {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		util.LogWarn("Failed to marshal payload: %v", err)
		return
	}
	cl.write(data)
}

// Broadcast fans a payload out to every connection bound to gameID. Callers
// broadcast while holding the session mutex, so messages reach every member
// in mutation order.
func (h *Hub) Broadcast(gameID string, payload any) {
	h.mu.Lock()
	group := h.sessions[gameID]
	members := make([]*client, 0, len(group))
	for _, cl := range group {
		members = append(members, cl)
	}
	h.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		util.LogWarn("Failed to marshal payload: %v", err)
		return
	}
	for _, cl := range members {
		if err := cl.write(data); err != nil {
			h.Unbind(cl.conn)
			_ = cl.conn.Close()
		}
	}
}

func (cl *client) write(data []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	return cl.conn.WriteMessage(websocket.TextMessage, data)
}

// SessionMembers reports how many connections are bound to a session.
func (h *Hub) SessionMembers(gameID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[gameID])
}

// ClientCount reports the total number of bound connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
