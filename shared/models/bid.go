package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid represents a single accepted bid on a product
type Bid struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
}

// BidRequest represents the incoming bid request from API
type BidRequest struct {
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Amount     decimal.Decimal `json:"amount"`
}

// BidResponse represents the API response after placing a bid
type BidResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	HighestBid decimal.Decimal `json:"highestBid"`
	YourBid    decimal.Decimal `json:"yourBid"`
	TotalBids  int             `json:"totalBids"`
	BidID      string          `json:"bidId,omitempty"`
}

// BidEvent is published when a bid is accepted. It goes to NATS JetStream
// for archival; the realtime channel carries the slimmer NewBidEvent.
type BidEvent struct {
	EventID     string          `json:"eventId"`
	Bid         Bid             `json:"bid"`
	PreviousBid decimal.Decimal `json:"previousBid"`
	TotalBids   int             `json:"totalBids"`
}
