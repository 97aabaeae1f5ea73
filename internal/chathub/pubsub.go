package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"handoffdesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errRelayNotStarted = errors.New("relay not started")

// LocalRelay loops envelopes straight back into the hub of this process.
type LocalRelay struct {
	mu      sync.RWMutex
	deliver func(models.Envelope)
}

func NewLocalRelay() *LocalRelay {
	return &LocalRelay{}
}

func (r *LocalRelay) Start(_ context.Context, deliver func(models.Envelope)) error {
	r.mu.Lock()
	r.deliver = deliver
	r.mu.Unlock()
	return nil
}

func (r *LocalRelay) Publish(_ context.Context, env models.Envelope) error {
	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()
	if deliver == nil {
		return errRelayNotStarted
	}
	deliver(env)
	return nil
}

// EnvelopeBus is the Redis side of the relay, implemented by storage.Service.
type EnvelopeBus interface {
	PublishEnvelope(ctx context.Context, env models.Envelope) error
	SubscribeEnvelopes(ctx context.Context) (*redis.PubSub, error)
}

// RedisRelay fans envelopes out to every instance subscribed to the relay channel.
type RedisRelay struct {
	bus    EnvelopeBus
	logger zerolog.Logger
}

func NewRedisRelay(bus EnvelopeBus) *RedisRelay {
	return &RedisRelay{
		bus:    bus,
		logger: log.With().Str("component", "relay").Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, env models.Envelope) error {
	return r.bus.PublishEnvelope(ctx, env)
}

// Start subscribes and forwards decoded envelopes to deliver until ctx ends.
func (r *RedisRelay) Start(ctx context.Context, deliver func(models.Envelope)) error {
	pubsub, err := r.bus.SubscribeEnvelopes(ctx)
	if err != nil {
		return err
	}
	// Wait for the subscription confirmation so early publishes are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					r.logger.Warn().Msg("relay subscription closed")
					return
				}
				var env models.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Error().Err(err).Msg("failed to decode relay envelope")
					continue
				}
				deliver(env)
			}
		}
	}()
	return nil
}
