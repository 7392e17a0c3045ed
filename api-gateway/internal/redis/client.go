package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Errors reported by the bid and close scripts.
var (
	ErrProductNotFound = errors.New("product not found")
	ErrNotAuction      = errors.New("product is not an auction")
	ErrAuctionClosed   = errors.New("auction is closed")
)

// BidHistoryLimit caps the per-product bid list kept in Redis.
const BidHistoryLimit = 50

// Client wraps the Redis client with product and bidding operations
type Client struct {
	client *redis.Client
	// Lua scripts for atomic compare-and-set bid and close operations
	bidScript   *redis.Script
	closeScript *redis.Script
}

// Amounts are compared in integer cents so Lua float arithmetic cannot
// reject an exact minimum bid.
var bidScript = redis.NewScript(`
	-- KEYS[1]: product:{id}            (hash)
	-- KEYS[2]: product:{id}:highest_bid
	-- KEYS[3]: product:{id}:highest_bidder
	-- KEYS[4]: product:{id}:highest_bidder_name
	-- KEYS[5]: product:{id}:bid_count
	-- KEYS[6]: product:{id}:bids       (list, most recent first)
	-- ARGV[1]: amount, ARGV[2]: bidder id, ARGV[3]: bidder name
	-- ARGV[4]: bid JSON, ARGV[5]: history cap

	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {-1, '0', '0', '0'}
	end
	local fields = redis.call('HMGET', KEYS[1], 'price', 'is_auction', 'status')
	if fields[2] ~= '1' then
		return {-2, '0', '0', '0'}
	end
	if fields[3] ~= 'active' then
		return {-3, '0', '0', '0'}
	end

	local function cents(v)
		return math.floor(tonumber(v) * 100 + 0.5)
	end

	local current = redis.call('GET', KEYS[2])
	local count = tonumber(redis.call('GET', KEYS[5]) or '0')
	local minimum
	if current then
		minimum = cents(current) + 100
	else
		minimum = cents(fields[1])
		current = '0'
	end

	if cents(ARGV[1]) < minimum then
		return {0, current, tostring(count), tostring(minimum / 100)}
	end

	redis.call('SET', KEYS[2], ARGV[1])
	redis.call('SET', KEYS[3], ARGV[2])
	redis.call('SET', KEYS[4], ARGV[3])
	count = redis.call('INCR', KEYS[5])
	redis.call('LPUSH', KEYS[6], ARGV[4])
	redis.call('LTRIM', KEYS[6], 0, tonumber(ARGV[5]) - 1)
	return {1, current, tostring(count), tostring(minimum / 100)}
`)

var closeScript = redis.NewScript(`
	-- KEYS[1]: product:{id} (hash)
	-- KEYS[2..4]: highest_bid, highest_bidder, highest_bidder_name
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {-1, '', '', ''}
	end
	local fields = redis.call('HMGET', KEYS[1], 'is_auction', 'status')
	if fields[1] ~= '1' then
		return {-2, '', '', ''}
	end
	if fields[2] ~= 'active' then
		return {-3, '', '', ''}
	end
	redis.call('HSET', KEYS[1], 'status', 'closed')
	return {1,
		redis.call('GET', KEYS[2]) or '',
		redis.call('GET', KEYS[3]) or '',
		redis.call('GET', KEYS[4]) or ''}
`)

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client:      rdb,
		bidScript:   bidScript,
		closeScript: closeScript,
	}, nil
}

func productKey(id string) string { return "product:" + id }

func productKeys(id string) []string {
	base := productKey(id)
	return []string{
		base,
		base + ":highest_bid",
		base + ":highest_bidder",
		base + ":highest_bidder_name",
		base + ":bid_count",
		base + ":bids",
	}
}

// CreateProduct stores the product listing hash
func (c *Client) CreateProduct(ctx context.Context, p *models.Product) error {
	isAuction := "0"
	if p.IsAuction {
		isAuction = "1"
	}
	err := c.client.HSet(ctx, productKey(p.ID), map[string]any{
		"title":      p.Title,
		"image":      p.Image,
		"seller_id":  p.SellerID,
		"price":      p.Price.String(),
		"is_auction": isAuction,
		"status":     p.Status,
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store product: %w", err)
	}
	return nil
}

// GetProduct loads a product snapshot with its recent bids
func (c *Client) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	keys := productKeys(id)

	pipe := c.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, keys[0])
	countCmd := pipe.Get(ctx, keys[4])
	bidsCmd := pipe.LRange(ctx, keys[5], 0, -1)

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, ErrProductNotFound
	}

	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return nil, fmt.Errorf("corrupt price for product %s: %w", id, err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])

	p := &models.Product{
		ID:        id,
		Title:     fields["title"],
		Image:     fields["image"],
		SellerID:  fields["seller_id"],
		Price:     price,
		IsAuction: fields["is_auction"] == "1",
		Status:    fields["status"],
		CreatedAt: createdAt,
		Bids:      []models.Bid{},
	}

	if countCmd.Err() == nil {
		p.TotalBids, _ = strconv.Atoi(countCmd.Val())
	}

	for _, raw := range bidsCmd.Val() {
		var bid models.Bid
		if err := json.Unmarshal([]byte(raw), &bid); err != nil {
			return nil, fmt.Errorf("corrupt bid for product %s: %w", id, err)
		}
		p.Bids = append(p.Bids, bid)
	}

	return p, nil
}

// BidResult represents the result of a bid operation
type BidResult struct {
	Accepted    bool
	PreviousBid decimal.Decimal
	HighestBid  decimal.Decimal
	MinimumBid  decimal.Decimal // smallest amount the script would have accepted
	TotalBids   int
}

// PlaceBid atomically attempts to place a bid on a product
func (c *Client) PlaceBid(ctx context.Context, bid *models.Bid) (*BidResult, error) {
	bidJSON, err := json.Marshal(bid)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bid: %w", err)
	}

	result, err := c.bidScript.Run(ctx, c.client, productKeys(bid.ProductID),
		bid.Amount.String(), bid.BidderID, bid.BidderName, bidJSON, BidHistoryLimit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute bid script: %w", err)
	}

	// Result is [status, previous_or_current_bid, bid_count, minimum_bid]
	code, current, count, minimum, err := parseScriptResult(result)
	if err != nil {
		return nil, err
	}
	if err := scriptError(code); err != nil {
		return nil, err
	}

	currentBid, err := decimal.NewFromString(current)
	if err != nil {
		return nil, fmt.Errorf("unexpected bid amount %q: %w", current, err)
	}
	minimumBid, err := decimal.NewFromString(minimum)
	if err != nil {
		return nil, fmt.Errorf("unexpected minimum bid %q: %w", minimum, err)
	}
	total, _ := strconv.Atoi(count)

	res := &BidResult{
		Accepted:    code == 1,
		PreviousBid: currentBid,
		HighestBid:  currentBid,
		MinimumBid:  minimumBid,
		TotalBids:   total,
	}
	if res.Accepted {
		res.HighestBid = bid.Amount
	}
	return res, nil
}

// CloseResult describes the state of an auction at the moment it closed
type CloseResult struct {
	HasWinner  bool
	Amount     decimal.Decimal
	BidderID   string
	BidderName string
}

// CloseAuction atomically marks an auction closed and returns its highest bid
func (c *Client) CloseAuction(ctx context.Context, id string) (*CloseResult, error) {
	keys := productKeys(id)
	result, err := c.closeScript.Run(ctx, c.client, keys[:4]).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute close script: %w", err)
	}

	arr, ok := result.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}
	code, _ := arr[0].(int64)
	if err := scriptError(code); err != nil {
		return nil, err
	}

	amount, _ := arr[1].(string)
	bidderID, _ := arr[2].(string)
	bidderName, _ := arr[3].(string)

	res := &CloseResult{BidderID: bidderID, BidderName: bidderName}
	if amount != "" && bidderID != "" {
		res.HasWinner = true
		if res.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("unexpected winning amount %q: %w", amount, err)
		}
	}
	return res, nil
}

// HighestBid retrieves the current highest bid for a product
func (c *Client) HighestBid(ctx context.Context, id string) (decimal.Decimal, bool, error) {
	v, err := c.client.Get(ctx, productKeys(id)[1]).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get highest bid: %w", err)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt highest bid %q: %w", v, err)
	}
	return d, true, nil
}

// Publish publishes an envelope to the product's Redis Pub/Sub channel.
// The broadcast service forwards it to the product's WebSocket room.
func (c *Client) Publish(ctx context.Context, productID string, env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, models.BidChannel(productID), payload).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func parseScriptResult(result interface{}) (code int64, current, count, minimum string, err error) {
	arr, ok := result.([]interface{})
	if !ok || len(arr) != 4 {
		return 0, "", "", "", fmt.Errorf("unexpected script result format")
	}
	code, ok = arr[0].(int64)
	if !ok {
		return 0, "", "", "", fmt.Errorf("unexpected script status %v", arr[0])
	}
	current, _ = arr[1].(string)
	count, _ = arr[2].(string)
	minimum, _ = arr[3].(string)
	return code, current, count, minimum, nil
}

func scriptError(code int64) error {
	switch code {
	case -1:
		return ErrProductNotFound
	case -2:
		return ErrNotAuction
	case -3:
		return ErrAuctionClosed
	}
	return nil
}
