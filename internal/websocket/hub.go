package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// RoomRuntime carries runtime lifecycle events and folder changes
	RoomRuntime = "runtime"
	// RoomConsole carries server console output
	RoomConsole = "console"

	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Payload   interface{}            `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Room string
	Send chan *Message
	Hub  *Hub
	mu   sync.Mutex
}

// NewClient creates a client subscribed to room
func NewClient(hub *Hub, conn *websocket.Conn, room string) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Room: room,
		Send: make(chan *Message, 64),
		Hub:  hub,
	}
}

// Hub manages all WebSocket connections and rooms. Clients only listen;
// everything they receive is published by the manager.
type Hub struct {
	rooms map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client

	broadcast chan *BroadcastMessage

	clients map[string]*Client

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			logging.L().Info("websocket_hub_shutdown")
			h.shutdown()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]bool)
	}
	h.rooms[client.Room][client] = true

	logging.L().Debug("websocket_client_joined",
		"client_id", client.ID,
		"room", client.Room,
		"room_size", len(h.rooms[client.Room]),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client.ID)

	clients, ok := h.rooms[client.Room]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.rooms, client.Room)
	}

	logging.L().Debug("websocket_client_left",
		"client_id", client.ID,
		"room", client.Room,
		"room_size", len(clients),
	)
}

func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[bm.Room] {
		select {
		case client.Send <- bm.Message:
		default:
			// slow reader, drop rather than block every other client
			logging.L().Warn("websocket_send_buffer_full", "client_id", client.ID, "room", bm.Room)
		}
	}
}

// GetRoomSize returns the number of clients in a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

// BroadcastToRoom queues message for every client in room. It blocks while
// the broadcast queue is full.
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	h.broadcast <- &BroadcastMessage{
		Room:    room,
		Message: message,
	}
}

// Publish queues a typed payload for room without blocking. It reports
// whether the message was queued.
func (h *Hub) Publish(room, msgType string, payload interface{}) bool {
	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- &BroadcastMessage{Room: room, Message: msg}:
		return true
	default:
		logging.L().Warn("websocket_broadcast_queue_full", "room", room, "type", msgType)
		return false
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

// ReadPump keeps the read side alive so pings, pongs and close frames are
// processed. Incoming payloads are discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Warn("websocket_read_error", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}

// WritePump pumps messages from hub to WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logging.L().Error("websocket_marshal_failed", "client_id", c.ID, "error", err)
				w.Close()
				continue
			}
			w.Write(data)

			// coalesce whatever is already queued into one frame
			n := len(c.Send)
			for i := 0; i < n; i++ {
				data, err := json.Marshal(<-c.Send)
				if err != nil {
					continue
				}
				w.Write([]byte("\n"))
				w.Write(data)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload interface{}) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client send channel is closed")
		}
	}()

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}
