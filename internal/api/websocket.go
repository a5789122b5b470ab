// Package api provides WebSocket streaming of engine emissions.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	MsgTypeEvent     MessageType = "event"
	MsgTypePortfolio MessageType = "portfolio"
	MsgTypeHeartbeat MessageType = "heartbeat"
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Kind      string          `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine emissions out to connected WebSocket clients. It satisfies
// fund.Emitter: the engine calls it inline, so both emit methods only hand
// the message to a buffered channel and never block the control loop.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader

	stateMu sync.RWMutex
	states  map[string]types.PortfolioState
}

// NewHub creates a WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		states:     make(map[string]types.PortfolioState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the hub loop; call in its own goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.logger.Debug("Client unregistered")

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

		case <-ticker.C:
			h.publish(WSMessage{Type: MsgTypeHeartbeat, Timestamp: time.Now().UnixMilli()})
		}
	}
}

// EmitEvent streams a verbosity-qualified engine event to all clients.
func (h *Hub) EmitEvent(e fund.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("Failed to marshal event", zap.Error(err))
		return
	}
	h.publish(WSMessage{
		Type:      MsgTypeEvent,
		Kind:      string(e.Kind()),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// EmitPortfolio streams a portfolio snapshot and caches the latest one per
// portfolio for the REST status endpoint.
func (h *Hub) EmitPortfolio(state types.PortfolioState) {
	h.stateMu.Lock()
	h.states[state.PortfolioID] = state
	h.stateMu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		h.logger.Warn("Failed to marshal portfolio state", zap.Error(err))
		return
	}
	h.publish(WSMessage{
		Type:      MsgTypePortfolio,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PortfolioStates returns the latest emitted snapshot per portfolio.
func (h *Hub) PortfolioStates() map[string]types.PortfolioState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	states := make(map[string]types.PortfolioState, len(h.states))
	for id, st := range h.states {
		states[id] = st
	}
	return states
}

// HandleWebSocket upgrades an HTTP request to a streaming client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) publish(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Broadcast buffer full; drop rather than block the caller.
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// Clients are read-only consumers; drain control frames and detect
		// disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
