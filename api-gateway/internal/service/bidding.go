package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	redisClient "github.com/aaronwang/zecond/api-gateway/internal/redis"
)

// Errors returned by BiddingService. Handlers map them to HTTP status codes.
var (
	ErrNotFound      = redisClient.ErrProductNotFound
	ErrNotAuction    = redisClient.ErrNotAuction
	ErrAuctionClosed = redisClient.ErrAuctionClosed
	ErrInvalid       = errors.New("invalid request")
)

// MinIncrement is the smallest step over the current highest bid.
var MinIncrement = decimal.NewFromInt(1)

// Store is the product and bid state backing the service.
type Store interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	PlaceBid(ctx context.Context, bid *models.Bid) (*redisClient.BidResult, error)
	CloseAuction(ctx context.Context, id string) (*redisClient.CloseResult, error)
	HighestBid(ctx context.Context, id string) (decimal.Decimal, bool, error)
}

// RealtimePublisher delivers envelopes to a product's realtime room.
type RealtimePublisher interface {
	Publish(ctx context.Context, productID string, env models.Envelope) error
}

// ArchivePublisher hands events to durable storage.
type ArchivePublisher interface {
	PublishBid(ctx context.Context, event *models.BidEvent) error
	PublishWinner(ctx context.Context, event *models.AuctionWonEvent) error
}

// BiddingService handles the business logic for products and bidding
type BiddingService struct {
	store      Store
	realtime   RealtimePublisher
	archive    ArchivePublisher
	log        zerolog.Logger
	now        func() time.Time
	priceCache sync.Map // Local cache for highest bids (productID -> decimal.Decimal)
	archiving  sync.WaitGroup
}

// NewBiddingService creates a new bidding service
func NewBiddingService(store Store, realtime RealtimePublisher, archive ArchivePublisher, log zerolog.Logger) *BiddingService {
	return &BiddingService{
		store:    store,
		realtime: realtime,
		archive:  archive,
		log:      log,
		now:      time.Now,
	}
}

// CreateProduct lists a new product
func (s *BiddingService) CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalid)
	}

	p := &models.Product{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Image:     req.Image,
		SellerID:  req.SellerID,
		Price:     req.Price.Round(2),
		IsAuction: req.IsAuction,
		Status:    models.ProductStatusActive,
		Bids:      []models.Bid{},
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.log.Info().Str("productId", p.ID).Bool("auction", p.IsAuction).Msg("product listed")
	return p, nil
}

// GetProduct returns the current product snapshot
func (s *BiddingService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest, ok := p.LatestBid(); ok {
		s.priceCache.Store(id, latest.Amount)
	}
	return p, nil
}

// PlaceBid handles the complete bid placement workflow:
// 1. Validate the request
// 2. Pre-filter using the local price cache
// 3. Attempt the atomic update in Redis
// 4. Publish newBid to the product's realtime room
// 5. Archive the bid through JetStream, off the request path
func (s *BiddingService) PlaceBid(ctx context.Context, productID string, req *models.BidRequest) (*models.BidResponse, error) {
	if req.BidderID == "" {
		return nil, fmt.Errorf("%w: bidder id is required", ErrInvalid)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrInvalid)
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: bid amount has more than two decimals", ErrInvalid)
	}

	// A stale cache must never reject a valid bid, so a cache hit is only
	// trusted after Redis confirms it.
	if cached, ok := s.priceCache.Load(productID); ok {
		cachedValue := cached.(decimal.Decimal)
		if req.Amount.LessThan(cachedValue.Add(MinIncrement)) {
			actual, exists, err := s.store.HighestBid(ctx, productID)
			switch {
			case err != nil:
				s.log.Warn().Err(err).Str("productId", productID).Msg("cache filter: using cached price")
				actual = cachedValue
			case !exists:
				s.priceCache.Delete(productID)
			case !actual.Equal(cachedValue):
				s.log.Debug().Str("cached", cachedValue.StringFixed(2)).Str("actual", actual.StringFixed(2)).
					Msg("cache filter: stale price")
				s.priceCache.Store(productID, actual)
			}

			if exists || err != nil {
				if req.Amount.LessThan(actual.Add(MinIncrement)) {
					return tooLow(actual, actual.Add(MinIncrement), req.Amount, 0), nil
				}
			}
		}
	}

	bid := &models.Bid{
		ID:         uuid.New().String(),
		ProductID:  productID,
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     req.Amount,
		Timestamp:  s.now().UTC(),
	}

	result, err := s.store.PlaceBid(ctx, bid)
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to place bid: %w", err)
	}

	if !result.Accepted {
		if result.TotalBids > 0 {
			s.priceCache.Store(productID, result.HighestBid)
		}
		return tooLow(result.HighestBid, result.MinimumBid, req.Amount, result.TotalBids), nil
	}

	s.priceCache.Store(productID, bid.Amount)

	// Published synchronously so room subscribers see bids in acceptance order.
	env, err := models.NewEnvelope(models.EventNewBid, models.NewBidEvent{
		ProductID:  productID,
		BidderID:   bid.BidderID,
		BidderName: bid.BidderName,
		Amount:     bid.Amount,
	})
	if err == nil {
		err = s.realtime.Publish(ctx, productID, env)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("productId", productID).Msg("failed to publish newBid")
	}

	s.archiveAsync(func(ctx context.Context) error {
		return s.archive.PublishBid(ctx, &models.BidEvent{
			EventID:     uuid.New().String(),
			Bid:         *bid,
			PreviousBid: result.PreviousBid,
			TotalBids:   result.TotalBids,
		})
	})

	s.log.Info().Str("productId", productID).Str("bidderId", bid.BidderID).
		Str("amount", bid.Amount.StringFixed(2)).Int("totalBids", result.TotalBids).Msg("bid accepted")

	return &models.BidResponse{
		Success:    true,
		Message:    "Bid placed successfully!",
		HighestBid: bid.Amount,
		YourBid:    bid.Amount,
		TotalBids:  result.TotalBids,
		BidID:      bid.ID,
	}, nil
}

// CloseAuction ends an auction and announces the winner, if there is one
func (s *BiddingService) CloseAuction(ctx context.Context, productID string) (*models.CloseAuctionResponse, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	result, err := s.store.CloseAuction(ctx, productID)
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to close auction: %w", err)
	}
	s.priceCache.Delete(productID)

	resp := &models.CloseAuctionResponse{ProductID: productID, Status: models.ProductStatusClosed}
	if !result.HasWinner {
		s.log.Info().Str("productId", productID).Msg("auction closed without bids")
		return resp, nil
	}

	winner := &models.AuctionWonEvent{
		BidderID:     result.BidderID,
		BidderName:   result.BidderName,
		ProductID:    productID,
		ProductTitle: p.Title,
		ProductImage: p.Image,
		Amount:       result.Amount,
	}
	resp.Winner = winner

	env, err := models.NewEnvelope(models.EventAuctionWinner, winner)
	if err == nil {
		err = s.realtime.Publish(ctx, productID, env)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("productId", productID).Msg("failed to publish auctionWinner")
	}

	s.archiveAsync(func(ctx context.Context) error {
		return s.archive.PublishWinner(ctx, winner)
	})

	s.log.Info().Str("productId", productID).Str("winner", winner.BidderID).
		Str("amount", winner.Amount.StringFixed(2)).Msg("auction closed")
	return resp, nil
}

// Wait blocks until in-flight archival publishes finish.
func (s *BiddingService) Wait() {
	s.archiving.Wait()
}

// archiveAsync runs publish off the request path; archival failures never fail a bid.
func (s *BiddingService) archiveAsync(publish func(ctx context.Context) error) {
	s.archiving.Add(1)
	go func() {
		defer s.archiving.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := publish(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to publish to archival queue")
		}
	}()
}

func tooLow(highest, minimum, yours decimal.Decimal, total int) *models.BidResponse {
	return &models.BidResponse{
		Success:    false,
		Message:    fmt.Sprintf("Bid too low. Minimum bid is $%s", minimum.StringFixed(2)),
		HighestBid: highest,
		YourBid:    yours,
		TotalBids:  total,
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotAuction) || errors.Is(err, ErrAuctionClosed)
}
