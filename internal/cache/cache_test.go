package cache

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/orderbot/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var name string
	require.ErrorIs(t, c.Get(ctx, "missing", &name), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", "Camiseta", 0))
	require.NoError(t, c.Get(ctx, "k", &name))
	assert.Equal(t, "Camiseta", name)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &name), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(context.Background(), "k", 1, time.Minute))
	now = now.Add(2 * time.Minute)

	var v int
	assert.ErrorIs(t, c.Get(context.Background(), "k", &v), ErrCacheMiss)
}

func TestMemoryCacheSets(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.AddToSet(ctx, BlacklistKey, "5551234"))
	ok, err := c.IsMember(ctx, BlacklistKey, "5551234")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.RemoveFromSet(ctx, BlacklistKey, "5551234"))
	ok, err = c.IsMember(ctx, BlacklistKey, "5551234")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisabledRedisCache(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	var v string
	assert.ErrorIs(t, c.Get(context.Background(), "k", &v), ErrDisabled)
	assert.NoError(t, c.Close())
}

func TestCacheKeys(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-0000-4000-8000-00000000abcd")
	assert.Equal(t, "conversation:5215550001", GetConversationKey("5215550001"))
	assert.Equal(t, "product:name:6f1c2a9e-0000-4000-8000-00000000abcd", GetProductNameKey(id))
}
