package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is an item listed on the marketplace. Auction products accept bids.
type Product struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	SellerID  string          `json:"sellerId,omitempty"`
	Price     decimal.Decimal `json:"price"`
	IsAuction bool            `json:"isAuction"`
	Status    string          `json:"status"` // "active", "closed"
	TotalBids int             `json:"totalBids"`
	Bids      []Bid           `json:"bids"` // most recent first
	CreatedAt time.Time       `json:"createdAt"`
}

// ProductStatus constants
const (
	ProductStatusActive = "active"
	ProductStatusClosed = "closed"
)

// LatestBid returns the most recent bid, if any.
func (p *Product) LatestBid() (Bid, bool) {
	if p == nil || len(p.Bids) == 0 {
		return Bid{}, false
	}
	return p.Bids[0], true
}

// CreateProductRequest is the body of a product listing request
type CreateProductRequest struct {
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	SellerID  string          `json:"sellerId"`
	Price     decimal.Decimal `json:"price"`
	IsAuction bool            `json:"isAuction"`
}

// CloseAuctionResponse reports the outcome of closing an auction
type CloseAuctionResponse struct {
	ProductID string           `json:"productId"`
	Status    string           `json:"status"`
	Winner    *AuctionWonEvent `json:"winner,omitempty"`
}
