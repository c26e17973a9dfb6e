// Package hub tracks the websocket connections attached to each chat room and
// fans messages out to them.
package hub

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentchat/internal/metrics"
	"github.com/eldtechnologies/agentchat/internal/models"
)

const writeWait = 10 * time.Second

// Peer is one websocket connection registered under a room.
type Peer struct {
	ID    string
	Room  string
	Agent string

	conn *websocket.Conn
	mu   sync.Mutex // serializes writes on conn
}

// Write sends one frame with a write deadline.
func (p *Peer) Write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}

// Hub is a registry of peers grouped by room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Peer
	logger zerolog.Logger
}

// New creates an empty hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  map[string]map[string]*Peer{},
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Join registers conn under room as agent.
func (h *Hub) Join(room, agent string, conn *websocket.Conn) *Peer {
	p := &Peer{ID: uuid.NewString(), Room: room, Agent: agent, conn: conn}
	h.mu.Lock()
	peers, ok := h.rooms[room]
	if !ok {
		peers = map[string]*Peer{}
		h.rooms[room] = peers
	}
	peers[p.ID] = p
	h.mu.Unlock()

	metrics.LiveConnections.Inc()
	h.logger.Info().Str("room", room).Str("agent", agent).Str("peer", p.ID).Msg("peer joined")
	return p
}

// Leave unregisters p and closes its connection. Empty rooms are dropped.
// Calling Leave more than once is harmless.
func (h *Hub) Leave(p *Peer) {
	if p == nil {
		return
	}
	h.mu.Lock()
	removed := false
	if peers, ok := h.rooms[p.Room]; ok {
		if _, ok := peers[p.ID]; ok {
			delete(peers, p.ID)
			removed = true
		}
		if len(peers) == 0 {
			delete(h.rooms, p.Room)
		}
	}
	h.mu.Unlock()

	if removed {
		metrics.LiveConnections.Dec()
		h.logger.Info().Str("room", p.Room).Str("agent", p.Agent).Str("peer", p.ID).Msg("peer left")
	}
	_ = p.conn.Close()
}

// Broadcast writes msg to every peer in its room. Peers whose write fails are
// dropped from the hub.
func (h *Hub) Broadcast(msg models.Message) {
	data, err := encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode broadcast")
		return
	}

	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.rooms[msg.Room]))
	for _, p := range h.rooms[msg.Room] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.Write(websocket.TextMessage, data); err != nil {
			metrics.BroadcastFailures.Inc()
			h.logger.Warn().Err(err).Str("room", p.Room).Str("agent", p.Agent).Msg("broadcast failed, dropping peer")
			h.Leave(p)
		}
	}
}

// Agents returns the sorted, de-duplicated agent names connected to room.
func (h *Hub) Agents(room string) []string {
	h.mu.RLock()
	seen := map[string]struct{}{}
	for _, p := range h.rooms[room] {
		seen[p.Agent] = struct{}{}
	}
	h.mu.RUnlock()

	agents := make([]string, 0, len(seen))
	for a := range seen {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	return agents
}

// CloseAll sends a going-away close frame to every peer (used during shutdown).
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var peers []*Peer
	for _, room := range h.rooms {
		for _, p := range room {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range peers {
		_ = p.Write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		h.Leave(p)
	}
}

// encode marshals without HTML escaping so <, > and & reach clients unchanged.
func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
