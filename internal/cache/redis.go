// Package cache keeps upstream person records and per-bill save locks in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another save already holds the bill lock.
var ErrLockHeld = errors.New("cache: lock held")

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Only the holder that set the lock may remove it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisCache struct {
	client    *redis.Client
	prefix    string
	personTTL time.Duration
	lockTTL   time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, personTTL, lockTTL time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, personTTL, lockTTL), nil
}

func NewRedisCacheWithClient(client *redis.Client, personTTL, lockTTL time.Duration) *RedisCache {
	if personTTL <= 0 {
		personTTL = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RedisCache{
		client:    client,
		prefix:    "billfeed:",
		personTTL: personTTL,
		lockTTL:   lockTTL,
	}
}

func (c *RedisCache) personKey(peopleID string) string {
	return c.prefix + "person:" + peopleID
}

func (c *RedisCache) lockKey(billID string) string {
	return c.prefix + "lock:bill:" + billID
}

// GetPerson returns the cached person record or ErrMiss.
func (c *RedisCache) GetPerson(ctx context.Context, peopleID string) (json.RawMessage, error) {
	data, err := c.client.Get(ctx, c.personKey(peopleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached person: %w", err)
	}
	return json.RawMessage(data), nil
}

func (c *RedisCache) PutPerson(ctx context.Context, peopleID string, data json.RawMessage) error {
	if err := c.client.Set(ctx, c.personKey(peopleID), []byte(data), c.personTTL).Err(); err != nil {
		return fmt.Errorf("cache person: %w", err)
	}
	return nil
}

// LockBill takes the save lock for billID. The returned func releases it and
// is safe to call after the lock has expired.
func (c *RedisCache) LockBill(ctx context.Context, billID string) (func(context.Context) error, error) {
	key := c.lockKey(billID)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, c.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire bill lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release bill lock: %w", err)
		}
		return nil
	}
	return release, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
