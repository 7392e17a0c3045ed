package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(zerolog.Nop())
	go m.Run(ctx)

	srv := httptest.NewServer(NewHandler(m, zerolog.Nop()).SetupRoutes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event, productID string) {
	t.Helper()
	env, err := models.NewEnvelope(event, models.JoinAuction{ProductID: productID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestJoinAuctionIsAcknowledged(t *testing.T) {
	m, srv := startServer(t)
	conn := dial(t, srv)

	emit(t, conn, models.EventJoinAuction, "p1")
	env := readEnvelope(t, conn)
	assert.Equal(t, models.EventAuctionJoined, env.Event)

	var ack models.JoinAuction
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	assert.Equal(t, "p1", ack.ProductID)
	assert.Equal(t, 1, m.GetSubscriberCount("p1"))
}

func TestJoinAuctionIsIdempotent(t *testing.T) {
	m, srv := startServer(t)
	conn := dial(t, srv)

	emit(t, conn, models.EventJoinAuction, "p1")
	readEnvelope(t, conn)
	emit(t, conn, models.EventJoinAuction, "p1")
	readEnvelope(t, conn)
	assert.Equal(t, 1, m.GetSubscriberCount("p1"))

	m.Broadcast("p1", []byte(`{"event":"newBid","data":{"bidderId":"u1","amount":"5"}}`))
	assert.Equal(t, models.EventNewBid, readEnvelope(t, conn).Event)

	// A duplicated registration would deliver the broadcast twice.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestBroadcastIsScopedToRoom(t *testing.T) {
	m, srv := startServer(t)
	watcher, other := dial(t, srv), dial(t, srv)

	emit(t, watcher, models.EventJoinAuction, "p1")
	readEnvelope(t, watcher)
	emit(t, other, models.EventJoinAuction, "p2")
	readEnvelope(t, other)

	payload := `{"event":"newBid","data":{"productId":"p1","bidderId":"u1","bidderName":"Ana","amount":"12.5"}}`
	m.Broadcast("p1", []byte(payload))

	env := readEnvelope(t, watcher)
	assert.Equal(t, models.EventNewBid, env.Event)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "client in another room must not receive the bid")
}

func TestLeaveAndDisconnectShrinkRooms(t *testing.T) {
	m, srv := startServer(t)
	a, b := dial(t, srv), dial(t, srv)

	emit(t, a, models.EventJoinAuction, "p1")
	readEnvelope(t, a)
	emit(t, b, models.EventJoinAuction, "p1")
	readEnvelope(t, b)
	assert.Equal(t, 2, m.GetSubscriberCount("p1"))

	emit(t, a, models.EventLeaveAuction, "p1")
	assert.Eventually(t, func() bool { return m.GetSubscriberCount("p1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	assert.Eventually(t, func() bool { return m.GetSubscriberCount("p1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	_, srv := startServer(t)
	conn := dial(t, srv)
	emit(t, conn, models.EventJoinAuction, "p7")
	readEnvelope(t, conn)

	resp, err := http.Get(srv.URL + "/stats/products/p7")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		ProductID   string `json:"productId"`
		Subscribers int    `json:"subscribers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "p7", body.ProductID)
	assert.Equal(t, 1, body.Subscribers)
}
