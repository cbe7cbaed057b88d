package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "article_fingerprint:"

// RedisCache implements Cache on Redis. SET NX with an expiry is the atomic
// single-round-trip check-and-set the dedup contract requires.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) PutIfAbsent(ctx context.Context, fingerprint, id string, ttl time.Duration) (bool, string, error) {
	key := keyPrefix + fingerprint

	inserted, err := c.client.SetNX(ctx, key, id, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to claim fingerprint %s: %w", fingerprint, err)
	}
	if inserted {
		return true, id, nil
	}

	owner, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Entry expired between SETNX and GET; the fingerprint is free again
		// and the next attempt will claim it.
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to read fingerprint owner %s: %w", fingerprint, err)
	}
	return false, owner, nil
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (string, error) {
	owner, err := c.client.Get(ctx, keyPrefix+fingerprint).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get fingerprint %s: %w", fingerprint, err)
	}
	return owner, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
