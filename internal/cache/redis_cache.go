package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"prisportal/backend/internal/domain"
)

const generationKey = "pricing:quote:generation"

type RedisQuoteCache struct {
	client *redis.Client
}

func NewRedisQuoteCache(addr string, password string, db int) *RedisQuoteCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisQuoteCache{client: client}
}

func (c *RedisQuoteCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisQuoteCache) Close() error {
	return c.client.Close()
}

func (c *RedisQuoteCache) Get(ctx context.Context, key string) (*domain.Quote, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var quote domain.Quote
	if err := json.Unmarshal([]byte(val), &quote); err != nil {
		return nil, false, err
	}
	return &quote, true, nil
}

func (c *RedisQuoteCache) Set(ctx context.Context, key string, value *domain.Quote, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// Generation is zero until the first Bump.
func (c *RedisQuoteCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisQuoteCache) Bump(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}
