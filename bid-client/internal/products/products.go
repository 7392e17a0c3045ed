// Package products serves product reads from the query cache and routes bid
// submissions through the cache's mutation path.
package products

import (
	"context"
	"errors"
	"time"

	"github.com/aaronwang/zecond/bid-client/internal/querycache"
	"github.com/aaronwang/zecond/bid-client/internal/session"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/shopspring/decimal"
)

// ErrNotSignedIn is returned for writes that need a user.
var ErrNotSignedIn = errors.New("not signed in")

// Backend is the subset of the API client used here.
type Backend interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	PlaceBid(ctx context.Context, productID string, req *models.BidRequest) (*models.BidResponse, error)
}

// Repository caches product snapshots.
type Repository struct {
	backend Backend
	app     *session.Context
	cache   *querycache.Cache[*models.Product]
}

// NewRepository creates a repository whose snapshots stay fresh for ttl.
func NewRepository(backend Backend, app *session.Context, ttl time.Duration) *Repository {
	return &Repository{
		backend: backend,
		app:     app,
		cache:   querycache.New[*models.Product](ttl),
	}
}

// Key is the cache key of a product query.
func Key(id string) string { return "product:" + id }

// Product returns the product snapshot, fetching it when missing or stale.
func (r *Repository) Product(ctx context.Context, id string) (*models.Product, error) {
	return r.cache.Fetch(ctx, Key(id), func(ctx context.Context) (*models.Product, error) {
		return r.backend.GetProduct(ctx, id)
	})
}

// State reports the cached query state of a product.
func (r *Repository) State(id string) querycache.Result[*models.Product] {
	return r.cache.Get(Key(id))
}

// PlaceBid submits a bid as the signed-in user and invalidates the product snapshot.
func (r *Repository) PlaceBid(ctx context.Context, productID string, amount decimal.Decimal) error {
	u, ok := r.app.User()
	if !ok {
		return ErrNotSignedIn
	}
	return r.cache.Mutate(ctx, func(ctx context.Context) error {
		_, err := r.backend.PlaceBid(ctx, productID, &models.BidRequest{
			BidderID:   u.ID,
			BidderName: u.DisplayName,
			Amount:     amount,
		})
		return err
	}, Key(productID))
}
