// Package auction keeps the live bid state of the product a view is showing.
//
// A View moves between three phases. Disconnected is the resting phase and
// the only phase for products that are not auctions. Mounting an auction
// subscribes the view's handlers, connects the channel and emits joinAuction
// (Joining); the server's auctionJoined ack moves it to Joined. Changing the
// product or unmounting releases the handlers and disconnects the channel.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aaronwang/zecond/bid-client/internal/session"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrNotMounted     = errors.New("no product mounted")
	ErrNotAuction     = errors.New("product is not an auction")
	ErrSignInRequired = errors.New("sign in to place a bid")
)

// MinIncrement is added to the highest bid to suggest the next one.
var MinIncrement = decimal.NewFromInt(1)

// Channel is the realtime connection a View drives.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Emit(event string, payload any) error
	Subscribe(event string, fn func(data json.RawMessage)) (unsubscribe func())
}

// BidPlacer submits bids through the request/response path.
type BidPlacer interface {
	PlaceBid(ctx context.Context, productID string, amount decimal.Decimal) error
}

// Phase is the room membership of a View.
type Phase int

const (
	Disconnected Phase = iota
	Joining
	Joined
)

func (p Phase) String() string {
	switch p {
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Snapshot is a copy of a View's state.
type Snapshot struct {
	Phase        Phase
	ProductID    string
	IsAuction    bool
	TotalBids    int
	HighestBid   decimal.Decimal
	NextBidInput string
}

// AuctionWon is the payload of the auction-won overlay.
type AuctionWon struct {
	ProductID string
	Title     string
	Image     string
	Amount    decimal.Decimal
}

// errSuperseded cancels an in-flight join when the view moves on.
var errSuperseded = errors.New("join superseded")

// View holds the bid state of one mounted product.
type View struct {
	ch     Channel
	app    *session.Context
	placer BidPlacer
	log    zerolog.Logger

	// lifecycle orders attach, join and teardown, including the channel
	// calls made outside mu. Event handlers never take it.
	lifecycle sync.Mutex

	mu         sync.Mutex
	phase      Phase
	productID  string
	isAuction  bool
	totalBids  int
	highestBid decimal.Decimal
	nextBid    string
	won        bool
	// generation changes on every attach and teardown; handlers from an
	// older generation drop their events.
	generation uint64
	unsubs     []func()
	cancelJoin context.CancelCauseFunc
}

// NewView creates an unmounted view. The view owns ch: it connects and
// disconnects it as products come and go.
func NewView(ch Channel, app *session.Context, placer BidPlacer, log zerolog.Logger) *View {
	return &View{ch: ch, app: app, placer: placer, log: log}
}

// Mount shows product. A nil product (still loading) leaves the view as is.
func (v *View) Mount(ctx context.Context, product *models.Product) error {
	return v.SetProduct(ctx, product)
}

// SetProduct switches the view to product. The same product id is a no-op;
// a different one abandons any join still dialing, tears down the current
// room and joins the new one.
func (v *View) SetProduct(ctx context.Context, product *models.Product) error {
	if product == nil {
		return nil
	}

	v.mu.Lock()
	if v.productID == product.ID {
		v.mu.Unlock()
		return nil
	}
	v.abortJoinLocked()
	v.mu.Unlock()

	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.mu.Lock()
	if v.productID == product.ID {
		v.mu.Unlock()
		return nil
	}
	attached := v.detachLocked()
	v.seedLocked(product)
	var joinCtx context.Context
	var cancel context.CancelCauseFunc
	if product.IsAuction {
		joinCtx, cancel = context.WithCancelCause(ctx)
		v.cancelJoin = cancel
	}
	v.mu.Unlock()

	if attached {
		v.disconnect()
	}
	if !product.IsAuction {
		return nil
	}

	v.mu.Lock()
	gen := v.attachLocked(product.ID)
	v.mu.Unlock()

	defer cancel(nil)
	return v.join(joinCtx, gen, product.ID)
}

// Unmount releases the view's handlers, disconnects the channel and clears
// the bid state.
func (v *View) Unmount() {
	v.mu.Lock()
	v.abortJoinLocked()
	v.mu.Unlock()

	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.mu.Lock()
	attached := v.detachLocked()
	v.productID = ""
	v.isAuction = false
	v.totalBids = 0
	v.highestBid = decimal.Decimal{}
	v.nextBid = ""
	v.mu.Unlock()

	if attached {
		v.disconnect()
	}
}

// Snapshot returns the current state. A view whose channel dropped reports
// Disconnected.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	phase := v.phase
	if phase != Disconnected && !v.ch.Connected() {
		phase = Disconnected
	}
	return Snapshot{
		Phase:        phase,
		ProductID:    v.productID,
		IsAuction:    v.isAuction,
		TotalBids:    v.totalBids,
		HighestBid:   v.highestBid,
		NextBidInput: v.nextBid,
	}
}

// SubmitBid places the amount in the bid input. Signed-out users get the
// login overlay instead.
func (v *View) SubmitBid(ctx context.Context) error {
	if _, ok := v.app.User(); !ok {
		v.app.OpenModal(session.ModalLogin, nil)
		return ErrSignInRequired
	}

	v.mu.Lock()
	productID, isAuction, input := v.productID, v.isAuction, v.nextBid
	v.mu.Unlock()

	if productID == "" {
		return ErrNotMounted
	}
	if !isAuction {
		return ErrNotAuction
	}
	amount, err := ParseBidInput(input)
	if err != nil {
		return err
	}
	if err := v.placer.PlaceBid(ctx, productID, amount); err != nil {
		return fmt.Errorf("failed to place bid on %s: %w", productID, err)
	}
	return nil
}

func (v *View) seedLocked(p *models.Product) {
	v.productID = p.ID
	v.isAuction = p.IsAuction
	v.won = false
	if latest, ok := p.LatestBid(); ok {
		v.highestBid = latest.Amount
		v.totalBids = p.TotalBids
		if n := len(p.Bids); n > v.totalBids {
			v.totalBids = n
		}
		v.nextBid = formatAmount(latest.Amount.Add(MinIncrement))
		return
	}
	v.highestBid = decimal.Zero
	v.totalBids = p.TotalBids
	v.nextBid = formatAmount(p.Price)
}

func (v *View) attachLocked(productID string) uint64 {
	v.generation++
	gen := v.generation
	v.phase = Joining
	v.unsubs = []func(){
		v.ch.Subscribe(models.EventNewBid, v.onNewBid(gen, productID)),
		v.ch.Subscribe(models.EventAuctionWinner, v.onAuctionWinner(gen, productID)),
		v.ch.Subscribe(models.EventAuctionJoined, v.onJoined(gen, productID)),
	}
	return gen
}

// join connects and asks for the room. ctx is cancelled with errSuperseded
// when a later SetProduct or Unmount takes over; the join then gives up
// quietly and leaves the teardown to its successor.
func (v *View) join(ctx context.Context, gen uint64, productID string) error {
	err := v.ch.Connect(ctx)
	v.mu.Lock()
	if v.generation == gen {
		v.cancelJoin = nil
	}
	v.mu.Unlock()

	if errors.Is(context.Cause(ctx), errSuperseded) {
		v.setPhase(gen, Disconnected)
		return nil
	}
	if err != nil {
		v.setPhase(gen, Disconnected)
		v.log.Warn().Err(err).Str("productId", productID).Msg("live updates unavailable")
		return err
	}

	if err := v.ch.Emit(models.EventJoinAuction, models.JoinAuction{ProductID: productID}); err != nil {
		v.setPhase(gen, Disconnected)
		v.log.Warn().Err(err).Str("productId", productID).Msg("failed to join auction")
		return err
	}
	v.log.Debug().Str("productId", productID).Msg("joining auction")
	return nil
}

func (v *View) abortJoinLocked() {
	if v.cancelJoin != nil {
		v.cancelJoin(errSuperseded)
		v.cancelJoin = nil
	}
}

// detachLocked drops the handlers and reports whether the channel still
// needs disconnecting. The caller disconnects after releasing mu.
func (v *View) detachLocked() (attached bool) {
	v.abortJoinLocked()
	attached = v.unsubs != nil
	for _, unsubscribe := range v.unsubs {
		unsubscribe()
	}
	v.unsubs = nil
	v.generation++
	v.phase = Disconnected
	return attached
}

func (v *View) disconnect() {
	if err := v.ch.Disconnect(); err != nil {
		v.log.Debug().Err(err).Msg("channel disconnect")
	}
}

func (v *View) setPhase(gen uint64, phase Phase) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation == gen {
		v.phase = phase
	}
}

func (v *View) onJoined(gen uint64, productID string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var ack models.JoinAuction
		if err := json.Unmarshal(data, &ack); err != nil || ack.ProductID != productID {
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.generation == gen && v.phase == Joining {
			v.phase = Joined
		}
	}
}

func (v *View) onNewBid(gen uint64, productID string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var ev models.NewBidEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			v.log.Debug().Err(err).Msg("ignoring malformed newBid")
			return
		}
		if ev.ProductID != "" && ev.ProductID != productID {
			return
		}

		v.mu.Lock()
		if v.generation != gen {
			v.mu.Unlock()
			return
		}
		v.totalBids++
		v.highestBid = ev.Amount
		v.nextBid = formatAmount(ev.Amount.Add(MinIncrement))
		v.mu.Unlock()

		if ev.BidderID != "" && ev.BidderID == v.app.UserID() {
			return
		}
		v.app.Notify(fmt.Sprintf("%s placed a bid of $%s", ev.BidderName, formatAmount(ev.Amount)))
	}
}

func (v *View) onAuctionWinner(gen uint64, productID string) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var ev models.AuctionWonEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			v.log.Debug().Err(err).Msg("ignoring malformed auctionWinner")
			return
		}
		if ev.ProductID != "" && ev.ProductID != productID {
			return
		}
		userID := v.app.UserID()
		if userID == "" || ev.BidderID != userID {
			return
		}

		v.mu.Lock()
		if v.generation != gen || v.won {
			v.mu.Unlock()
			return
		}
		v.won = true
		v.mu.Unlock()

		v.app.OpenModal(session.ModalAuctionWon, AuctionWon{
			ProductID: productID,
			Title:     ev.ProductTitle,
			Image:     ev.ProductImage,
			Amount:    ev.Amount,
		})
	}
}
