package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "catalog:version"

// Loader fetches items from the authoritative store.
type Loader func(ctx context.Context, codes []string) ([]Item, error)

// Cache keeps catalog items in Redis under versioned keys. Bump invalidates
// every cached item at once by moving the version forward.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func itemKey(code string, ver int64) string {
	return fmt.Sprintf("catalog:item:%s:%d", code, ver)
}

// Items returns the cached items for codes, loading misses through loader.
// Concurrent loads of the same misses are coalesced. Redis failures fall
// back to the loader.
func (c *Cache) Items(ctx context.Context, codes []string, loader Loader) ([]Item, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	if c == nil || c.client == nil {
		return loader(ctx, codes)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx, codes)
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = itemKey(code, ver)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return loader(ctx, codes)
	}

	items := make([]Item, 0, len(codes))
	var missing []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, codes[i])
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			missing = append(missing, codes[i])
			continue
		}
		items = append(items, item)
	}
	if len(missing) == 0 {
		return items, nil
	}

	sort.Strings(missing)
	flightKey := fmt.Sprintf("%d|%s", ver, strings.Join(missing, ","))
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		loaded, err := loader(ctx, missing)
		if err != nil {
			return nil, err
		}
		pipe := c.client.Pipeline()
		for _, item := range loaded {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, err
			}
			pipe.Set(ctx, itemKey(item.Code, ver), raw, c.ttl)
		}
		_, _ = pipe.Exec(ctx)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return append(items, v.([]Item)...), nil
}

// Bump invalidates all cached items.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
