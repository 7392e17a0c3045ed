package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Realtime channel event names.
const (
	EventJoinAuction   = "joinAuction"
	EventLeaveAuction  = "leaveAuction"
	EventAuctionJoined = "auctionJoined"
	EventNewBid        = "newBid"
	EventAuctionWinner = "auctionWinner"
)

// Envelope is the frame exchanged over the realtime channel and Redis Pub/Sub.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// JoinAuction is sent by a client to enter a product's room.
type JoinAuction struct {
	ProductID string `json:"productId"`
}

// NewBidEvent is broadcast to a product's room when a bid is accepted.
type NewBidEvent struct {
	ProductID  string          `json:"productId,omitempty"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Amount     decimal.Decimal `json:"amount"`
}

// AuctionWonEvent is broadcast when an auction closes with a winner.
type AuctionWonEvent struct {
	BidderID     string          `json:"bidderId"`
	BidderName   string          `json:"bidderName,omitempty"`
	ProductID    string          `json:"productId"`
	ProductTitle string          `json:"productTitle"`
	ProductImage string          `json:"productImage"`
	Amount       decimal.Decimal `json:"amount"`
}

// BidChannelPrefix prefixes the Redis Pub/Sub channel of every product room.
const BidChannelPrefix = "bid_events:"

// BidChannel returns the Redis Pub/Sub channel for a product.
func BidChannel(productID string) string {
	return BidChannelPrefix + productID
}

// JetStream stream and subjects used for archival.
const (
	ArchiveStream        = "BID_EVENTS"
	BidSubjectPrefix     = "bid.events."
	WinnerSubjectPrefix  = "auction.won."
	ArchivalConsumerName = "archival-worker"
)
