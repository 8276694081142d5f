package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/maypok86/otter"
)

var (
	ErrNegativeCacheHit = errors.New("negative hit")
	ErrCacheMiss        = errors.New("cache miss")
)

type cacheItem[TValue any] struct {
	value   TValue
	missing bool
}

// memcache is an otter backed TTL cache that can also remember missing keys
type memcache[TKey comparable, TValue any] struct {
	store otter.Cache[TKey, cacheItem[TValue]]
}

func NewMemoryCache[TKey comparable, TValue any](expiration time.Duration, maxCacheSize int) (*memcache[TKey, TValue], error) {
	store, err := otter.MustBuilder[TKey, cacheItem[TValue]](maxCacheSize).
		WithTTL(expiration).
		Build()

	if err != nil {
		return nil, err
	}

	return &memcache[TKey, TValue]{
		store: store,
	}, nil
}

var _ common.Cache[int, any] = (*memcache[int, any])(nil)

func (c *memcache[TKey, TValue]) Get(ctx context.Context, key TKey) (TValue, error) {
	var zero TValue

	item, found := c.store.Get(key)
	if !found {
		slog.Log(ctx, common.LevelTrace, "Item not found in memory cache", "key", key)
		return zero, ErrCacheMiss
	}

	if item.missing {
		slog.Log(ctx, common.LevelTrace, "Item set as missing in memory cache", "key", key)
		return zero, ErrNegativeCacheHit
	}

	slog.Log(ctx, common.LevelTrace, "Found item in memory cache", "key", key)

	return item.value, nil
}

func (c *memcache[TKey, TValue]) SetMissing(ctx context.Context, key TKey) error {
	c.store.Set(key, cacheItem[TValue]{missing: true})

	slog.Log(ctx, common.LevelTrace, "Set item as missing in memory cache", "key", key)

	return nil
}

func (c *memcache[TKey, TValue]) Set(ctx context.Context, key TKey, t TValue) error {
	c.store.Set(key, cacheItem[TValue]{value: t})

	slog.Log(ctx, common.LevelTrace, "Saved item to memory cache", "key", key)

	return nil
}

func (c *memcache[TKey, TValue]) Delete(ctx context.Context, key TKey) error {
	c.store.Delete(key)

	slog.Log(ctx, common.LevelTrace, "Deleted item from memory cache", "key", key)

	return nil
}
