// Package progress publishes processing snapshots to Redis so any API
// instance can answer progress queries for a running file.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mass-payments/internal/models"
)

const DefaultTTL = 24 * time.Hour

type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func key(fileID string) string {
	return fmt.Sprintf("payment_file:progress:%s", fileID)
}

func (t *RedisTracker) SetProgress(ctx context.Context, p models.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, key(p.FileID), data, t.ttl).Err()
}

// GetProgress returns models.ErrNotFound when nothing was published for the
// file or the snapshot has expired.
func (t *RedisTracker) GetProgress(ctx context.Context, fileID string) (*models.Progress, error) {
	data, err := t.client.Get(ctx, key(fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p models.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode progress for %s: %w", fileID, err)
	}
	return &p, nil
}
