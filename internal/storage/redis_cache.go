package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindful-backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const credentialKeyPrefix = "mindful:credential:"

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// CachedCredentials 在 Storage 前面加一层 redis 读缓存。
// redis 不可用时直接读底层存储。
type CachedCredentials struct {
	Storage
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedCredentials(inner Storage, rdb *redis.Client, ttl time.Duration) *CachedCredentials {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCredentials{Storage: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedCredentials) GetCredential(ctx context.Context, userID string) (string, error) {
	key := credentialKeyPrefix + userID

	sealed, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return sealed, nil
	}
	if !errors.Is(err, redis.Nil) {
		logger.Warnf("credential cache read failed: %v", err)
	}

	sealed, err = c.Storage.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := c.rdb.Set(ctx, key, sealed, c.ttl).Err(); err != nil {
		logger.Warnf("credential cache write failed: %v", err)
	}
	return sealed, nil
}

func (c *CachedCredentials) PutCredential(ctx context.Context, userID, sealed string) error {
	if err := c.Storage.PutCredential(ctx, userID, sealed); err != nil {
		return err
	}
	c.invalidate(ctx, userID)
	return nil
}

func (c *CachedCredentials) DeleteCredential(ctx context.Context, userID string) error {
	err := c.Storage.DeleteCredential(ctx, userID)
	c.invalidate(ctx, userID)
	return err
}

func (c *CachedCredentials) invalidate(ctx context.Context, userID string) {
	if err := c.rdb.Del(ctx, credentialKeyPrefix+userID).Err(); err != nil {
		logger.Warnf("credential cache invalidate failed: %v", err)
	}
}

func (c *CachedCredentials) Close() error {
	if err := c.rdb.Close(); err != nil {
		logger.Warnf("failed to close redis: %v", err)
	}
	return c.Storage.Close()
}
