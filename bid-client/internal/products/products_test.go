package products

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aaronwang/zecond/bid-client/internal/querycache"
	"github.com/aaronwang/zecond/bid-client/internal/session"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	gets   int
	bids   []*models.BidRequest
	bidErr error
}

func (f *fakeBackend) GetProduct(_ context.Context, id string) (*models.Product, error) {
	f.gets++
	return &models.Product{ID: id, TotalBids: len(f.bids)}, nil
}

func (f *fakeBackend) PlaceBid(_ context.Context, _ string, req *models.BidRequest) (*models.BidResponse, error) {
	if f.bidErr != nil {
		return nil, f.bidErr
	}
	f.bids = append(f.bids, req)
	return &models.BidResponse{Success: true}, nil
}

func TestProductIsCached(t *testing.T) {
	be := &fakeBackend{}
	repo := NewRepository(be, session.New(nil), time.Minute)

	_, err := repo.Product(context.Background(), "p1")
	require.NoError(t, err)
	_, err = repo.Product(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, 1, be.gets)
	assert.Equal(t, querycache.Success, repo.State("p1").Status)
}

func TestPlaceBidRequiresUser(t *testing.T) {
	repo := NewRepository(&fakeBackend{}, session.New(nil), time.Minute)
	err := repo.PlaceBid(context.Background(), "p1", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestPlaceBidInvalidatesSnapshot(t *testing.T) {
	be := &fakeBackend{}
	app := session.New(nil)
	app.SignIn(session.User{ID: "u1", DisplayName: "Ana"})
	repo := NewRepository(be, app, time.Minute)

	_, _ = repo.Product(context.Background(), "p1")
	require.NoError(t, repo.PlaceBid(context.Background(), "p1", decimal.RequireFromString("12.50")))

	require.Len(t, be.bids, 1)
	assert.Equal(t, "u1", be.bids[0].BidderID)
	assert.Equal(t, "Ana", be.bids[0].BidderName)

	p, err := repo.Product(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, be.gets)
	assert.Equal(t, 1, p.TotalBids)
}

func TestPlaceBidFailureKeepsSnapshot(t *testing.T) {
	be := &fakeBackend{bidErr: errors.New("too low")}
	app := session.New(nil)
	app.SignIn(session.User{ID: "u1"})
	repo := NewRepository(be, app, time.Minute)

	_, _ = repo.Product(context.Background(), "p1")
	require.Error(t, repo.PlaceBid(context.Background(), "p1", decimal.NewFromInt(1)))

	_, _ = repo.Product(context.Background(), "p1")
	assert.Equal(t, 1, be.gets)
}
