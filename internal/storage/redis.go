package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// PublishEnvelope publishes an addressed event on the cross-instance relay channel.
func (s *Service) PublishEnvelope(ctx context.Context, env models.Envelope) error {
	if s.Redis == nil {
		return ErrRedisDisabled
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("storage: encode envelope: %w", err)
	}
	return s.Redis.Publish(ctx, config.RelayChannel, payload).Err()
}

// SubscribeEnvelopes subscribes to the relay channel.
func (s *Service) SubscribeEnvelopes(ctx context.Context) (*redis.PubSub, error) {
	if s.Redis == nil {
		return nil, ErrRedisDisabled
	}
	return s.Redis.Subscribe(ctx, config.RelayChannel), nil
}

// ClaimKey records key for ttl and reports whether this call created it.
func (s *Service) ClaimKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.Redis == nil {
		return false, ErrRedisDisabled
	}
	return s.Redis.SetNX(ctx, config.RedisDedupPrefix+key, 1, ttl).Result()
}

// ReleaseKey deletes a key recorded by ClaimKey.
func (s *Service) ReleaseKey(ctx context.Context, key string) error {
	if s.Redis == nil {
		return ErrRedisDisabled
	}
	return s.Redis.Del(ctx, config.RedisDedupPrefix+key).Err()
}

// ConnectRedis parses a redis:// URL and checks the server is reachable.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: ping redis: %w", err)
	}
	return client, nil
}
