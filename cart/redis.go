package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

const DefaultSnapshotTTL = 30 * 24 * time.Hour

var _ Persister = (*RedisPersister)(nil)

// RedisPersister keeps each device's snapshot in a single string key.
type RedisPersister struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisPersister(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisPersister {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisPersister{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func SnapshotKey(deviceID string) string {
	return fmt.Sprintf("cart:%s", deviceID)
}

func (r *RedisPersister) Load(ctx context.Context, key string) (models.CartState, error) {
	raw, err := r.client.Get(ctx, SnapshotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewCartState(), nil
	}
	if err != nil {
		return models.NewCartState(), fmt.Errorf("failed to get cart snapshot: %w", err)
	}

	state, dropped, err := DecodeSnapshot(raw)
	if err != nil {
		return models.NewCartState(), err
	}
	if dropped > 0 {
		r.logger.Warn("Dropped malformed cart items", zap.String("device_id", key), zap.Int("dropped", dropped))
	}
	return state, nil
}

func (r *RedisPersister) Save(ctx context.Context, key string, state models.CartState) error {
	raw, err := EncodeSnapshot(state)
	if err != nil {
		return err
	}

	// 每次寫入都刷新 TTL
	if err = r.client.Set(ctx, SnapshotKey(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cart snapshot: %w", err)
	}
	return nil
}
