package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stream "github.com/aaronwang/zecond/shared/archive"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Archive persists events pulled from the stream
type Archive interface {
	ArchiveBid(ctx context.Context, event *models.BidEvent) error
	ArchiveWinner(ctx context.Context, event *models.AuctionWonEvent) error
}

// NATSConsumer consumes bid and winner events from JetStream and persists them
type NATSConsumer struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	archive Archive
	log     zerolog.Logger
}

// NewNATSConsumer connects to NATS and prepares the JetStream context
func NewNATSConsumer(natsURL string, archive Archive, log zerolog.Logger) (*NATSConsumer, error) {
	conn, err := nats.Connect(natsURL, nats.Name("archival-worker"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSConsumer{
		conn:    conn,
		js:      js,
		archive: archive,
		log:     log,
	}, nil
}

// Start consumes from the durable archival consumer until ctx is cancelled
func (c *NATSConsumer) Start(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.js.CreateOrUpdateStream(setupCtx, stream.StreamConfig()); err != nil {
		return fmt.Errorf("failed to create/update stream: %w", err)
	}
	cons, err := c.js.CreateOrUpdateConsumer(setupCtx, models.ArchiveStream, stream.ConsumerConfig())
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.log.Info().Str("stream", models.ArchiveStream).Str("consumer", models.ArchivalConsumerName).Msg("consuming archive events")

	<-ctx.Done()
	return nil
}

// handleMessage acks once the event is stored; failures are redelivered
func (c *NATSConsumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.process(dbCtx, msg.Subject(), msg.Data()); err != nil {
		if isPoison(err) {
			c.log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed event")
			msg.Term()
			return
		}
		c.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("failed to persist event, will retry")
		msg.Nak()
		return
	}
	msg.Ack()
}

type poisonError struct{ err error }

func (e poisonError) Error() string { return e.err.Error() }
func (e poisonError) Unwrap() error { return e.err }

func isPoison(err error) bool {
	_, ok := err.(poisonError)
	return ok
}

// process decodes an event by subject and writes it to the archive
func (c *NATSConsumer) process(ctx context.Context, subject string, data []byte) error {
	switch {
	case strings.HasPrefix(subject, models.BidSubjectPrefix):
		var event models.BidEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return poisonError{fmt.Errorf("failed to unmarshal bid event: %w", err)}
		}
		if err := c.archive.ArchiveBid(ctx, &event); err != nil {
			return err
		}
		c.log.Info().Str("eventId", event.EventID).Str("productId", event.Bid.ProductID).
			Str("amount", event.Bid.Amount.StringFixed(2)).Msg("archived bid")

	case strings.HasPrefix(subject, models.WinnerSubjectPrefix):
		var event models.AuctionWonEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return poisonError{fmt.Errorf("failed to unmarshal winner event: %w", err)}
		}
		if err := c.archive.ArchiveWinner(ctx, &event); err != nil {
			return err
		}
		c.log.Info().Str("productId", event.ProductID).Str("winner", event.BidderID).Msg("archived auction winner")

	default:
		return poisonError{fmt.Errorf("unexpected subject %q", subject)}
	}
	return nil
}

// Close closes the NATS connection
func (c *NATSConsumer) Close() error {
	c.conn.Close()
	return nil
}
