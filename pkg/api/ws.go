package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage is the envelope pushed to connected agents. The only message
// the controller currently sends is config_changed; agents answer with
// applied_status reports which are logged.
type WSMessage struct {
	Type    string      `json:"type"`
	NodeID  uint        `json:"nodeId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// WSHub tracks agent connections keyed by node ID so config changes can
// be pushed instead of waiting for the next poll.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	agents   map[uint]*websocket.Conn
}

func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		agents: map[uint]*websocket.Conn{},
	}
}

// HandleAgentWS upgrades the connection for a join-token-authenticated
// node. A reconnect replaces the previous connection.
func (s *Server) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	node, ok := s.nodeFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h := s.Hub
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed node=%d: %v", node.ID, err)
		return
	}
	h.mu.Lock()
	if old, ok := h.agents[node.ID]; ok {
		_ = old.Close()
	}
	h.agents[node.ID] = c
	h.mu.Unlock()
	log.Printf("agent ws connected node=%d", node.ID)
	go h.readLoop(node.ID, c)
}

// NotifyConfigChanged pushes a config_changed hint to one node if it is
// connected. Delivery is best effort; polling remains the authority.
func (h *WSHub) NotifyConfigChanged(nodeID uint) {
	h.mu.RLock()
	c := h.agents[nodeID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.WriteJSON(WSMessage{Type: "config_changed", NodeID: nodeID}); err != nil {
		log.Printf("ws notify node=%d failed: %v", nodeID, err)
	}
}

// BroadcastConfigChanged notifies every connected agent, used after
// fleet-wide changes such as settings or template updates.
func (h *WSHub) BroadcastConfigChanged() {
	h.mu.RLock()
	ids := make([]uint, 0, len(h.agents))
	for id := range h.agents {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.NotifyConfigChanged(id)
	}
}

func (h *WSHub) readLoop(nodeID uint, c *websocket.Conn) {
	defer func() {
		c.Close()
		h.mu.Lock()
		if h.agents[nodeID] == c {
			delete(h.agents, nodeID)
		}
		h.mu.Unlock()
		log.Printf("agent ws disconnected node=%d", nodeID)
	}()
	for {
		var msg WSMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		log.Printf("ws recv node=%d type=%s", nodeID, msg.Type)
	}
}
