package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Manager tracks WebSocket clients and the product rooms they joined.
// Room membership changes only on the Run goroutine.
type Manager struct {
	// productID -> clients in that room
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	log zerolog.Logger
}

// Client represents a WebSocket client connection
type Client struct {
	ID    string
	Conn  *websocket.Conn
	Send  chan []byte
	rooms map[string]struct{}
	log   zerolog.Logger
}

type membership struct {
	client    *Client
	productID string
}

// BroadcastMessage is a payload for every client in a product's room
type BroadcastMessage struct {
	ProductID string
	Payload   []byte
}

// NewManager creates a new WebSocket manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		rooms:      make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan *BroadcastMessage, sendBuffer), // Buffered for high throughput
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations, room changes and broadcasts until ctx ends
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for client := range m.clients {
				m.dropLocked(client)
			}
			m.mu.Unlock()
			return

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = struct{}{}
			m.mu.Unlock()
			go client.writePump()
			m.log.Debug().Str("client", client.ID).Msg("client connected")

		case client := <-m.unregister:
			m.mu.Lock()
			m.dropLocked(client)
			m.mu.Unlock()

		case req := <-m.join:
			m.joinRoom(req.client, req.productID)

		case req := <-m.leave:
			m.mu.Lock()
			m.leaveLocked(req.client, req.productID)
			m.mu.Unlock()

		case message := <-m.broadcast:
			m.broadcastToRoom(message.ProductID, message.Payload)
		}
	}
}

// RegisterClient adds a client to the manager. It reports false once the
// manager has stopped.
func (m *Manager) RegisterClient(client *Client) bool {
	select {
	case m.register <- client:
		return true
	case <-m.done:
		return false
	}
}

// UnregisterClient removes a client and closes its connection
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}

// Join adds a client to a product's room
func (m *Manager) Join(client *Client, productID string) {
	select {
	case m.join <- membership{client, productID}:
	case <-m.done:
	}
}

// Leave removes a client from a product's room
func (m *Manager) Leave(client *Client, productID string) {
	select {
	case m.leave <- membership{client, productID}:
	case <-m.done:
	}
}

// Broadcast sends a message to all clients in a product's room
func (m *Manager) Broadcast(productID string, payload []byte) {
	select {
	case m.broadcast <- &BroadcastMessage{ProductID: productID, Payload: payload}:
	case <-m.done:
	}
}

// joinRoom is idempotent: a second join for the same room only re-acknowledges.
func (m *Manager) joinRoom(client *Client, productID string) {
	m.mu.Lock()
	if _, ok := m.clients[client]; !ok {
		m.mu.Unlock()
		return
	}
	room, ok := m.rooms[productID]
	if !ok {
		room = make(map[*Client]struct{})
		m.rooms[productID] = room
	}
	_, already := room[client]
	room[client] = struct{}{}
	client.rooms[productID] = struct{}{}
	m.mu.Unlock()

	if !already {
		m.log.Info().Str("client", client.ID).Str("productId", productID).Msg("client joined auction")
	}

	env, err := models.NewEnvelope(models.EventAuctionJoined, models.JoinAuction{ProductID: productID})
	if err != nil {
		return
	}
	ack, _ := json.Marshal(env)
	m.send(client, ack)
}

func (m *Manager) leaveLocked(client *Client, productID string) {
	if room, ok := m.rooms[productID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(m.rooms, productID)
		}
	}
	delete(client.rooms, productID)
}

// dropLocked removes the client from every room and closes its send channel once.
func (m *Manager) dropLocked(client *Client) {
	if _, ok := m.clients[client]; !ok {
		return
	}
	for productID := range client.rooms {
		m.leaveLocked(client, productID)
	}
	delete(m.clients, client)
	close(client.Send)
	m.log.Debug().Str("client", client.ID).Msg("client disconnected")
}

// broadcastToRoom sends a message to every client in a product's room
func (m *Manager) broadcastToRoom(productID string, payload []byte) {
	m.mu.RLock()
	targets := make([]*Client, 0, len(m.rooms[productID]))
	for client := range m.rooms[productID] {
		targets = append(targets, client)
	}
	m.mu.RUnlock()

	count := 0
	for _, client := range targets {
		if m.send(client, payload) {
			count++
		}
	}
	m.log.Debug().Int("clients", count).Str("productId", productID).Msg("broadcast")
}

// send queues payload without blocking. A client whose buffer is full is
// dropped so one slow reader cannot stall a room.
func (m *Manager) send(client *Client, payload []byte) bool {
	select {
	case client.Send <- payload:
		return true
	default:
		m.log.Warn().Str("client", client.ID).Msg("send buffer full, disconnecting")
		m.mu.Lock()
		m.dropLocked(client)
		m.mu.Unlock()
		return false
	}
}

// GetSubscriberCount returns the number of clients in a product's room
func (m *Manager) GetSubscriberCount(productID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[productID])
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
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
				// Channel closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump handles room requests from the client until the connection fails
func (c *Client) readPump(m *Manager) {
	defer m.UnregisterClient(c)

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Str("client", c.ID).Msg("websocket read error")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Debug().Err(err).Str("client", c.ID).Msg("ignoring malformed frame")
			continue
		}

		switch env.Event {
		case models.EventJoinAuction, models.EventLeaveAuction:
			var req models.JoinAuction
			if err := json.Unmarshal(env.Data, &req); err != nil || req.ProductID == "" {
				c.log.Debug().Str("client", c.ID).Str("event", env.Event).Msg("missing productId")
				continue
			}
			if env.Event == models.EventJoinAuction {
				m.Join(c, req.ProductID)
			} else {
				m.Leave(c, req.ProductID)
			}
		default:
			c.log.Debug().Str("client", c.ID).Str("event", env.Event).Msg("ignoring unknown event")
		}
	}
}

// StartReadPump starts the read pump for this client
func (c *Client) StartReadPump(m *Manager) {
	go c.readPump(m)
}
