package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stream "github.com/aaronwang/zecond/shared/archive"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher publishes bid and winner events to NATS JetStream for archival.
// JetStream waits for the server's ack, so a nil error means the event is persisted.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

// NewPublisher creates the JetStream context and ensures the archive stream exists
func NewPublisher(ctx context.Context, conn *nats.Conn, log zerolog.Logger) (*Publisher, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := js.CreateOrUpdateStream(ctx, stream.StreamConfig()); err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	log.Info().Str("stream", models.ArchiveStream).Msg("JetStream stream ready")

	return &Publisher{js: js, log: log}, nil
}

// PublishBid archives an accepted bid
func (p *Publisher) PublishBid(ctx context.Context, event *models.BidEvent) error {
	return p.publish(ctx, models.BidSubjectPrefix+event.Bid.ProductID, event)
}

// PublishWinner archives the outcome of a closed auction
func (p *Publisher) PublishWinner(ctx context.Context, event *models.AuctionWonEvent) error {
	return p.publish(ctx, models.WinnerSubjectPrefix+event.ProductID, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	p.log.Debug().Str("subject", subject).Uint64("seq", ack.Sequence).Msg("archived event")
	return nil
}
