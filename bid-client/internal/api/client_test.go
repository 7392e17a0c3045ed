package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	c.backoff = time.Millisecond
	return c
}

func TestGetProduct(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/p1", r.URL.Path)
		json.NewEncoder(w).Encode(models.Product{ID: "p1", IsAuction: true, Price: decimal.NewFromInt(10), TotalBids: 2})
	})

	p, err := c.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 2, p.TotalBids)
}

func TestGetProductRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(models.Product{ID: "p1"})
	})

	_, err := c.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetProductNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"product not found"}`))
	})

	_, err := c.GetProduct(context.Background(), "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "product not found", apiErr.Message)
}

func TestPlaceBid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.BidRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Amount.LessThan(decimal.NewFromInt(21)) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(models.BidResponse{Message: "Bid too low. Minimum bid is $21.00", HighestBid: decimal.NewFromInt(20)})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.BidResponse{Success: true, HighestBid: req.Amount, TotalBids: 3})
	})

	resp, err := c.PlaceBid(context.Background(), "p1", &models.BidRequest{BidderID: "u1", Amount: decimal.NewFromInt(21)})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalBids)

	_, err = c.PlaceBid(context.Background(), "p1", &models.BidRequest{BidderID: "u1", Amount: decimal.NewFromInt(20)})
	var rejected *BidRejected
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "Bid too low. Minimum bid is $21.00", rejected.Error())
}

func TestCloseAuctionDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.CloseAuction(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
