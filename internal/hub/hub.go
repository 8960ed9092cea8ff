// Package hub owns the WebSocket connections: it fans scheduler updates and
// operation output out to clients and dispatches inbound control messages.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/ops"
	"github.com/helmboard/helmboard/internal/protocol"
	"github.com/helmboard/helmboard/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Client represents one WebSocket connection. Its id is the subscriber
// identity used by the registry and operation rooms.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Hub maintains active connections and room membership for operations.
type Hub struct {
	log  zerolog.Logger
	auth *auth.Service

	scheduler *stream.Scheduler
	executor  *ops.Executor

	mu      sync.RWMutex
	clients map[string]*Client
	opRooms map[string]map[string]*Client // operation id → client id → client

	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub. Scheduler and executor are attached afterwards
// because they need the hub as their publisher.
func NewHub(log zerolog.Logger, authSvc *auth.Service) *Hub {
	return &Hub{
		log:        log.With().Str("component", "hub").Logger(),
		auth:       authSvc,
		clients:    make(map[string]*Client),
		opRooms:    make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Attach wires the hub to the engines it dispatches into.
func (h *Hub) Attach(scheduler *stream.Scheduler, executor *ops.Executor) {
	h.scheduler = scheduler
	h.executor = executor
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.log.Debug().Str("client", client.id).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				for opID, room := range h.opRooms {
					delete(room, client.id)
					if len(room) == 0 {
						delete(h.opRooms, opID)
					}
				}
				// Mark the client closed under its own lock before closing
				// the channel: broadcasts run on scheduler and executor
				// goroutines and must never send on a closed channel.
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				close(client.send)
			}
			h.mu.Unlock()

			// Drop all topic subscriptions. Operations are untouched: they
			// are detached background tasks.
			h.scheduler.OnDisconnect(client.id)
			h.log.Debug().Str("client", client.id).Msg("client unregistered")
		}
	}
}

// ServeConn registers an upgraded connection and starts its pumps.
func (h *Hub) ServeConn(conn *websocket.Conn) {
	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// Publish implements stream.Publisher: deliver one event to one subscriber.
func (h *Hub) Publish(subscriberID, msgType string, payload any) {
	h.mu.RLock()
	client := h.clients[subscriberID]
	h.mu.RUnlock()
	if client == nil {
		// Subscriber vanished between the room snapshot and the send; the
		// delivery is a safe no-op.
		return
	}
	client.sendEvent(msgType, payload)
}

// BroadcastOperation implements ops.Publisher: deliver one event to every
// current member of an operation's room.
func (h *Hub) BroadcastOperation(operationID, msgType string, payload any) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.opRooms[operationID]))
	for _, c := range h.opRooms[operationID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.sendEvent(msgType, payload)
	}
}

func (h *Hub) joinOperation(c *Client, operationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.opRooms[operationID]
	if room == nil {
		room = make(map[string]*Client)
		h.opRooms[operationID] = room
	}
	room[c.id] = c
}

func (h *Hub) leaveOperation(c *Client, operationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.opRooms[operationID]
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.opRooms, operationID)
	}
}

// sendEvent marshals and queues one event. Non-blocking: a client whose
// send buffer is full loses the frame rather than stalling the broadcast.
func (c *Client) sendEvent(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.hub.log.Error().Err(err).Str("type", msgType).Msg("failed to encode event")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client send buffer full, skip
	}
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Msg("read error")
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn().Err(err).Str("client", c.id).Msg("failed to parse message")
			c.sendEvent(protocol.TypeError, protocol.ErrorPayload{Message: "malformed message"})
			continue
		}
		c.hub.dispatch(c, &msg)
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
