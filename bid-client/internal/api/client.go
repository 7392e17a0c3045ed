package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/rs/zerolog"
)

// APIError is a non-2xx response from the API gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// BidRejected is returned when the gateway refuses a bid as too low.
type BidRejected struct {
	Response models.BidResponse
}

func (e *BidRejected) Error() string {
	return e.Response.Message
}

// Client talks to the API gateway's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 2,
		backoff:    100 * time.Millisecond,
		log:        log,
	}
}

// GetProduct fetches a product snapshot with its recent bids.
func (c *Client) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := c.getJSON(ctx, "/api/v1/products/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct lists a product.
func (c *Client) CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error) {
	var p models.Product
	if err := c.postJSON(ctx, "/api/v1/products", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PlaceBid submits a bid. A rejected bid returns *BidRejected.
func (c *Client) PlaceBid(ctx context.Context, productID string, req *models.BidRequest) (*models.BidResponse, error) {
	var resp models.BidResponse
	err := c.postJSON(ctx, "/api/v1/products/"+url.PathEscape(productID)+"/bids", req, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &BidRejected{Response: resp}
	}
	return &resp, nil
}

// CloseAuction ends an auction.
func (c *Client) CloseAuction(ctx context.Context, productID string) (*models.CloseAuctionResponse, error) {
	var resp models.CloseAuctionResponse
	if err := c.postJSON(ctx, "/api/v1/products/"+url.PathEscape(productID)+"/close", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// getJSON retries idempotent reads on gateway and availability errors.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug().Str("path", path).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		lastErr = c.do(req, out)
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// A rejected bid carries a BidResponse body with 409.
	if resp.StatusCode == http.StatusConflict {
		if r, ok := out.(*models.BidResponse); ok && json.Unmarshal(body, r) == nil && r.Message != "" {
			return nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}
