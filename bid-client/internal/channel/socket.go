// Package channel is the client end of the realtime bid channel: one
// WebSocket connection carrying {"event","data"} envelopes, with handlers
// registered per event name.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Emit before Connect or after Disconnect.
var ErrNotConnected = errors.New("channel not connected")

const writeWait = 10 * time.Second

// Handler receives the data of one event. Handlers run on the read
// goroutine, one at a time, in receipt order.
type Handler = func(data json.RawMessage)

type subscription struct {
	id uint64
	fn Handler
}

// Socket is a WebSocket-backed realtime channel. It does not reconnect: a
// failed read leaves it disconnected until the next Connect.
type Socket struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	handlers  map[string][]subscription
	nextID    uint64

	dialMu  sync.Mutex
	writeMu sync.Mutex
}

// NewSocket creates a channel for the broadcast service at url (ws:// or wss://).
func NewSocket(url string, log zerolog.Logger) *Socket {
	return &Socket{
		url:      url,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log,
		handlers: make(map[string][]subscription),
	}
}

// Connect dials the server. It is a no-op while already connected. The
// handshake runs without holding the state lock, so Connected, Subscribe
// and Emit do not wait on it.
func (s *Socket) Connect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if s.Connected() {
		return nil
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	go s.readLoop(conn)

	s.log.Debug().Str("url", s.url).Msg("channel connected")
	return nil
}

// Disconnect closes the connection. The server drops every room the
// connection had joined.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	s.log.Debug().Msg("channel disconnected")
	return conn.Close()
}

// Connected reports whether the connection is up.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Emit sends event with payload as its data.
func (s *Socket) Emit(event string, payload any) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

// Subscribe registers fn for event and returns the func that removes it.
// Calling the returned func more than once is harmless.
func (s *Socket) Subscribe(event string, fn Handler) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[event] = append(s.handlers[event], subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.handlers[event]
			for i, sub := range subs {
				if sub.id == id {
					s.handlers[event] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(s.handlers[event]) == 0 {
				delete(s.handlers, event)
			}
		})
	}
}

// HasListeners reports whether any handler is registered for event.
func (s *Socket) HasListeners(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[event]) > 0
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.connected = false
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("channel read failed")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		s.mu.Lock()
		if s.conn != conn {
			s.mu.Unlock()
			return
		}
		subs := append([]subscription(nil), s.handlers[env.Event]...)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(env.Data)
		}
	}
}
