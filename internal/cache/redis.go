package cache

import (
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/config"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrCacheMiss is returned when a key is absent
var ErrCacheMiss = errors.New("key not found in cache")

// ErrDisabled is returned by a disabled cache
var ErrDisabled = errors.New("cache is disabled")

// Cache stores JSON values and string sets
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	AddToSet(ctx context.Context, key string, members ...string) error
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	IsMember(ctx context.Context, key string, member string) (bool, error)
}

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{client: client, enabled: true}, nil
}

// Enabled reports whether the cache talks to Redis
func (c *RedisCache) Enabled() bool {
	return c != nil && c.enabled
}

// Client returns the underlying Redis client
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}

	return nil
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// Delete removes a key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "failed to delete key from Redis")
	}
	return nil
}

// AddToSet adds members to a set
func (c *RedisCache) AddToSet(ctx context.Context, key string, members ...string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if err := c.client.SAdd(ctx, key, toInterfaces(members)...).Err(); err != nil {
		return errors.Wrap(err, "failed to add set members in Redis")
	}
	return nil
}

// RemoveFromSet removes members from a set
func (c *RedisCache) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if err := c.client.SRem(ctx, key, toInterfaces(members)...).Err(); err != nil {
		return errors.Wrap(err, "failed to remove set members in Redis")
	}
	return nil
}

// IsMember reports whether member belongs to the set
func (c *RedisCache) IsMember(ctx context.Context, key string, member string) (bool, error) {
	if !c.Enabled() {
		return false, ErrDisabled
	}
	ok, err := c.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check set membership in Redis")
	}
	return ok, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.Enabled() || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GetConversationKey generates the key holding a conversation's state
func GetConversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// GetProductNameKey generates the key caching a product's display name
func GetProductNameKey(id uuid.UUID) string {
	return fmt.Sprintf("product:name:%s", id.String())
}

// BlacklistKey is the set of blocked phone numbers
const BlacklistKey = "blacklist:numbers"

func toInterfaces(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
