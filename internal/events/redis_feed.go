package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/models"
)

// RedisFeed shares change events between service instances over pub/sub,
// one channel per merchant.
type RedisFeed struct {
	client *redis.Client
	prefix string
	buffer int
	logger zerolog.Logger
}

func NewRedisFeed(client *redis.Client, prefix string, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: prefix,
		buffer: DefaultBuffer,
		logger: logger.With().Str("component", "redis_feed").Logger(),
	}
}

// Channel is the pub/sub channel of a merchant.
func (f *RedisFeed) Channel(merchantID string) string {
	return f.prefix + "changes:" + merchantID
}

func (f *RedisFeed) Publish(ctx context.Context, ev models.ChangeEvent) error {
	data, err := json.Marshal(stamp(ev))
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := f.client.Publish(ctx, f.Channel(ev.MerchantID), data).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (f *RedisFeed) Subscribe(ctx context.Context, merchantID string) (<-chan models.ChangeEvent, error) {
	pubsub := f.client.Subscribe(ctx, f.Channel(merchantID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", merchantID, err)
	}

	out := make(chan models.ChangeEvent, f.buffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev models.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Skipping malformed change event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
