package routing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fooddash/internal/types"
)

// DurationCache maps an unordered coordinate pair to its last known route duration.
// Entries older than the cache TTL are reported as absent.
type DurationCache interface {
	Get(ctx context.Context, a, b types.Point) (time.Duration, bool, error)
	Set(ctx context.Context, a, b types.Point, d time.Duration) error
}

// PairKey is symmetric: PairKey(a, b) == PairKey(b, a). Coordinates are
// rounded to 5 decimals (~1m) so jittery GPS fixes share an entry.
func PairKey(a, b types.Point) string {
	ka, kb := pointKey(a), pointKey(b)
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}

func pointKey(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 5, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 5, 64)
}

type cacheEntry struct {
	duration  time.Duration
	expiresAt time.Time
}

// MemoryCache is a process-local DurationCache for single-instance deployments.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, a, b types.Point) (time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[PairKey(a, b)]
	if !ok || !c.now().Before(e.expiresAt) {
		return 0, false, nil
	}
	return e.duration, true, nil
}

func (c *MemoryCache) Set(_ context.Context, a, b types.Point, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[PairKey(a, b)] = cacheEntry{duration: d, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Sweep evicts expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

const redisKeyPrefix = "routing:duration:"

// RedisCache stores durations as millisecond strings with a native key TTL.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, a, b types.Point) (time.Duration, bool, error) {
	ms, err := c.redis.Get(ctx, redisKeyPrefix+PairKey(a, b)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (c *RedisCache) Set(ctx context.Context, a, b types.Point, d time.Duration) error {
	return c.redis.Set(ctx, redisKeyPrefix+PairKey(a, b), d.Milliseconds(), c.ttl).Err()
}
