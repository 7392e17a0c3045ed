package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    zerolog.Logger
}

// NewSubscriber creates a new Redis Pub/Sub subscriber
func NewSubscriber(ctx context.Context, addr, password string, db int, log zerolog.Logger) (*Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Subscriber{
		client: rdb,
		log:    log,
	}, nil
}

// SubscribeToAll subscribes to every product room with a pattern subscription
func (s *Subscriber) SubscribeToAll(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, models.BidChannelPrefix+"*")
	return s.confirm(ctx)
}

func (s *Subscriber) confirm(ctx context.Context) error {
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Listen forwards room messages to messageChan until ctx is cancelled.
// This is a blocking operation - run in a goroutine
func (s *Subscriber) Listen(ctx context.Context, messageChan chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("pubsub channel closed")
			}
			m, err := parseMessage(msg.Channel, msg.Payload)
			if err != nil {
				s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping message")
				continue
			}

			select {
			case messageChan <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Message represents a parsed Pub/Sub message
type Message struct {
	ProductID string
	Event     string
	Payload   []byte // Raw envelope JSON, forwarded verbatim
}

func parseMessage(channel, payload string) (*Message, error) {
	productID, ok := strings.CutPrefix(channel, models.BidChannelPrefix)
	if !ok || productID == "" {
		return nil, fmt.Errorf("unexpected channel %q", channel)
	}

	var env models.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope without event name")
	}

	return &Message{
		ProductID: productID,
		Event:     env.Event,
		Payload:   []byte(payload),
	}, nil
}

// Close closes the subscriber
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}
