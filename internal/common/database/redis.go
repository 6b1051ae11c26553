// internal/common/database/redis.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"threatintel-workers/internal/common/config"
	"threatintel-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned when nothing has been published yet.
var ErrNoSnapshot = errors.New("no snapshot published")

const snapshotChannelSuffix = ":updates"

// RedisClient wraps the Redis client and owns the published IP snapshot.
type RedisClient struct {
	Client      *redis.Client
	snapshotKey string
}

// NewRedis creates a new Redis client
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	return &RedisClient{Client: rdb, snapshotKey: cfg.SnapshotKey}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

func (c *RedisClient) SnapshotKey() string {
	return c.snapshotKey
}

// PublishSnapshot overwrites the latest snapshot and notifies subscribers on
// <key>:updates with the run ID. A zero ttl keeps the key without expiry.
func (c *RedisClient) PublishSnapshot(ctx context.Context, snapshot models.IPSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := c.Client.TxPipeline()
	pipe.Set(ctx, c.snapshotKey, payload, ttl)
	pipe.Publish(ctx, c.snapshotKey+snapshotChannelSuffix, snapshot.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the last published snapshot or ErrNoSnapshot.
func (c *RedisClient) LatestSnapshot(ctx context.Context) (*models.IPSnapshot, error) {
	raw, err := c.Client.Get(ctx, c.snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot models.IPSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// GetClient returns the underlying *redis.Client
func (c *RedisClient) GetClient() *redis.Client {
	return c.Client
}
