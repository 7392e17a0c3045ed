package auction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aaronwang/zecond/bid-client/internal/channel"
	"github.com/aaronwang/zecond/bid-client/internal/session"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// auctionRoom answers like the broadcast service: joinAuction gets an
// auctionJoined ack for the same product, then one newBid is published to
// the room. closed is closed once the client hangs up.
func auctionRoom(t *testing.T, bid models.NewBidEvent) (srv *httptest.Server, closed <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(done)
		defer conn.Close()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(message, &env); err != nil || env.Event != models.EventJoinAuction {
				continue
			}
			var req models.JoinAuction
			if err := json.Unmarshal(env.Data, &req); err != nil || req.ProductID == "" {
				continue
			}

			ack, _ := models.NewEnvelope(models.EventAuctionJoined, models.JoinAuction{ProductID: req.ProductID})
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
			bid.ProductID = req.ProductID
			update, _ := models.NewEnvelope(models.EventNewBid, bid)
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, done
}

func TestViewOverSocketRoundTrip(t *testing.T) {
	srv, closed := auctionRoom(t, models.NewBidEvent{BidderID: "you", BidderName: "Ana", Amount: dec("42")})
	socket := channel.NewSocket("ws"+strings.TrimPrefix(srv.URL, "http"), zerolog.Nop())

	notes := &toasts{}
	app := session.New(notes)
	app.SignIn(session.User{ID: "me", DisplayName: "Me"})
	view := NewView(socket, app, &fakePlacer{}, zerolog.Nop())

	require.NoError(t, view.Mount(context.Background(), auctionWithBids("p1", 2, "30")))
	assert.True(t, socket.Connected())

	assert.Eventually(t, func() bool {
		s := view.Snapshot()
		return s.Phase == Joined && s.TotalBids == 3
	}, 2*time.Second, 10*time.Millisecond)

	s := view.Snapshot()
	assert.True(t, s.HighestBid.Equal(dec("42")))
	assert.Equal(t, "43.00", s.NextBidInput)
	assert.Equal(t, []string{"Ana placed a bid of $42.00"}, notes.all())

	view.Unmount()
	assert.False(t, socket.Connected())
	assert.False(t, socket.HasListeners(models.EventNewBid))
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection close")
	}
	assert.Equal(t, Disconnected, view.Snapshot().Phase)
}
