package mutation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// RedisPublisher ships canonical events over a Redis pub/sub channel. The
// realtime hub subscribes to the same channel, which keeps the event schema
// broker-transport-agnostic for a later multi-process deployment.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on the given channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.CanonicalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
