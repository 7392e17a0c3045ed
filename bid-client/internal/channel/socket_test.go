package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roomServer acks joinAuction and then sends the queued frames in order.
func roomServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event != models.EventJoinAuction {
				continue
			}
			ack, _ := models.NewEnvelope(models.EventAuctionJoined, json.RawMessage(env.Data))
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
			for _, f := range frames {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestEmitBeforeConnect(t *testing.T) {
	s := NewSocket("ws://127.0.0.1:1", zerolog.Nop())
	err := s.Emit(models.EventJoinAuction, models.JoinAuction{ProductID: "p1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, s.Connected())
}

func TestConnectFailure(t *testing.T) {
	s := NewSocket("ws://127.0.0.1:1", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, s.Connect(ctx))
	assert.False(t, s.Connected())
}

func TestHandlersRunInReceiptOrder(t *testing.T) {
	srv := roomServer(t,
		`{"event":"newBid","data":{"amount":"11"}}`,
		`{"event":"newBid","data":{"amount":"12"}}`,
		`not json`,
		`{"event":"newBid","data":{"amount":"13"}}`,
	)
	s := NewSocket(wsURL(srv), zerolog.Nop())

	rec := &recorder{}
	s.Subscribe(models.EventAuctionJoined, func(json.RawMessage) { rec.add("joined") })
	s.Subscribe(models.EventNewBid, func(data json.RawMessage) {
		var bid models.NewBidEvent
		require.NoError(t, json.Unmarshal(data, &bid))
		rec.add(bid.Amount.String())
	})

	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Disconnect() })
	assert.True(t, s.Connected())
	require.NoError(t, s.Emit(models.EventJoinAuction, models.JoinAuction{ProductID: "p1"}))

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"joined", "11", "12", "13"}, rec.snapshot())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := roomServer(t, `{"event":"newBid","data":{"amount":"11"}}`)
	s := NewSocket(wsURL(srv), zerolog.Nop())

	rec := &recorder{}
	off := s.Subscribe(models.EventNewBid, func(json.RawMessage) { rec.add("removed") })
	s.Subscribe(models.EventNewBid, func(json.RawMessage) { rec.add("kept") })
	assert.True(t, s.HasListeners(models.EventNewBid))

	off()
	off()
	assert.True(t, s.HasListeners(models.EventNewBid))

	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Disconnect() })
	require.NoError(t, s.Emit(models.EventJoinAuction, models.JoinAuction{ProductID: "p1"}))

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"kept"}, rec.snapshot())
}

func TestHasListenersAfterLastUnsubscribe(t *testing.T) {
	s := NewSocket("ws://unused", zerolog.Nop())
	off := s.Subscribe(models.EventAuctionWinner, func(json.RawMessage) {})
	assert.True(t, s.HasListeners(models.EventAuctionWinner))
	off()
	assert.False(t, s.HasListeners(models.EventAuctionWinner))
}

func TestDisconnect(t *testing.T) {
	srv := roomServer(t)
	s := NewSocket(wsURL(srv), zerolog.Nop())

	require.NoError(t, s.Connect(context.Background()))
	// Connecting twice keeps the first connection.
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Disconnect())
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Emit(models.EventLeaveAuction, models.JoinAuction{ProductID: "p1"}), ErrNotConnected)
	assert.NoError(t, s.Disconnect())
}

func TestServerCloseMarksDisconnected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	s := NewSocket(wsURL(srv), zerolog.Nop())
	require.NoError(t, s.Connect(context.Background()))
	assert.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)
}

func TestStateCallsDoNotWaitForHandshake(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()
	defer close(release)

	s := NewSocket(wsURL(srv), zerolog.Nop())
	dialed := make(chan error, 1)
	go func() { dialed <- s.Connect(context.Background()) }()

	// Give the dial time to reach the blocked handshake.
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Connected()
		off := s.Subscribe(models.EventNewBid, func(json.RawMessage) {})
		s.HasListeners(models.EventNewBid)
		off()
		s.Emit(models.EventJoinAuction, models.JoinAuction{ProductID: "p1"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state calls blocked behind the handshake")
	}
	assert.False(t, s.Connected())

	release <- struct{}{}
	require.NoError(t, <-dialed)
	assert.True(t, s.Connected())
	require.NoError(t, s.Disconnect())
}
