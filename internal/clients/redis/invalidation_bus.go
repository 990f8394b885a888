package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/utils"
)

const invalidationChannel = "pipeline:invalidate"

// InvalidationBus fans tenant invalidations out to every running instance.
// The payload is just the tenant id; subscribers evict locally.
type InvalidationBus struct {
	client *goredis.Client
	log    *logger.Logger
}

// NewInvalidationBus returns nil (no error) when REDIS_ADDR is unset; callers
// treat a nil bus as local-only invalidation.
func NewInvalidationBus(log *logger.Logger) (*InvalidationBus, error) {
	l := log.With("client", "redis")
	addr := utils.GetEnv("REDIS_ADDR", "", l)
	if addr == "" {
		l.Info("REDIS_ADDR unset, cache invalidation is local-only")
		return nil, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: utils.GetEnv("REDIS_PASSWORD", "", l),
		DB:       utils.GetEnvAsInt("REDIS_DB", 0, l),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &InvalidationBus{client: client, log: l}, nil
}

func (b *InvalidationBus) Publish(ctx context.Context, tenantID string) error {
	return b.client.Publish(ctx, invalidationChannel, tenantID).Err()
}

// StartForwarder subscribes and calls evict for every tenant id published,
// including our own messages; eviction is idempotent so the echo is harmless.
// Returns once ctx is cancelled.
func (b *InvalidationBus) StartForwarder(ctx context.Context, evict func(tenantID string)) {
	sub := b.client.Subscribe(ctx, invalidationChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.log.Debug("invalidation received", "tenant_id", msg.Payload)
				evict(msg.Payload)
			}
		}
	}()
}

func (b *InvalidationBus) Close() error {
	return b.client.Close()
}
