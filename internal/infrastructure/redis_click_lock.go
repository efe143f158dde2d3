package infrastructure

import (
	"context"
	"fmt"
	"time"

	"adengine/pkg/config"

	"github.com/redis/go-redis/v9"
)

const clickLockKeyPrefix = "adengine:click:"

// RedisClickLock holds one key per (ad, device) for the duplicate-click window.
type RedisClickLock struct {
	client *redis.Client
}

func NewRedisClickLock(client *redis.Client) *RedisClickLock {
	return &RedisClickLock{client: client}
}

// NewRedisClient connects and pings the configured server.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func clickLockKey(adID uint, deviceID string) string {
	return fmt.Sprintf("%s%d:%s", clickLockKeyPrefix, adID, deviceID)
}

// Acquire sets the key only if absent; the key expires after ttl.
func (l *RedisClickLock) Acquire(ctx context.Context, adID uint, deviceID string, ttl time.Duration) (bool, error) {
	acquired, err := l.client.SetNX(ctx, clickLockKey(adID, deviceID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire click lock: %w", err)
	}
	return acquired, nil
}

// Release drops the key so a retried click is not taken for a duplicate.
func (l *RedisClickLock) Release(ctx context.Context, adID uint, deviceID string) error {
	if err := l.client.Del(ctx, clickLockKey(adID, deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to release click lock: %w", err)
	}
	return nil
}
