package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/schoolhub/student-ledger/internal/infrastructure/messaging"
)

// PubSub adapts a go-redis client to messaging.RedisClient.
type PubSub struct {
	client *redis.Client
	subs   []*redis.PubSub
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates a PubSub over the cache's client.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.Client()}
}

// Publish sends message to channel. Strings and byte slices are sent as is.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe returns a channel of messages that closes when ctx is done.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	p.subs = append(p.subs, sub)

	out := make(chan messaging.RedisMessage)
	in := sub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the subscriptions. The shared client is closed by its owner.
func (p *PubSub) Close() error {
	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
