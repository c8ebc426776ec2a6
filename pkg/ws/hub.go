package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket message types.
const (
	MsgTypeInit     = "init"              // current pipeline status on connect
	MsgTypeProgress = "pipeline_progress" // per-batch progress update
	MsgTypeState    = "pipeline_state"    // lifecycle transition
	MsgTypeError    = "error"
)

// Message is the envelope for every websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client is one connected websocket peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages websocket connections and fans broadcasts out to them.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	getInitData func() interface{}
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetInitDataProvider registers the callback that supplies the snapshot sent
// to every newly connected client.
func (h *Hub) SetInitDataProvider(provider func() interface{}) {
	h.getInitData = provider
}

// Run processes register/unregister/broadcast events until the process ends.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("websocket client connected", zap.Int("total_clients", h.ClientCount()))
			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.Int("total_clients", h.ClientCount()))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop the connection.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		return
	}
	data := h.getInitData()
	if data == nil {
		return
	}
	raw, err := json.Marshal(Message{Type: MsgTypeInit, Data: data})
	if err != nil {
		h.logger.Error("marshal init data", zap.Error(err))
		return
	}
	select {
	case client.send <- raw:
	default:
		h.logger.Warn("init data dropped, client buffer full")
	}
}

// Broadcast sends raw bytes to every client.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// BroadcastMessage sends a typed message to every client.
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	raw, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("marshal broadcast message", zap.Error(err))
		return
	}
	h.Broadcast(raw)
}

// BroadcastProgress sends a pipeline progress update to every client.
func (h *Hub) BroadcastProgress(progress interface{}) {
	h.BroadcastMessage(MsgTypeProgress, progress)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient wraps an accepted websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister removes the client from the hub.
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump drains incoming frames to keep the connection alive. Client
// messages carry no meaning here.
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump forwards queued messages to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
