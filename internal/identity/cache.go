package identity

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache memoizes resolved local id -> external UUID pairs. Implementations
// are best-effort: a failed write only costs a later store lookup.
type Cache interface {
	Get(ctx context.Context, localUserID int64) (string, bool)
	Set(ctx context.Context, localUserID int64, externalUUID string)
}

// RedisCache keeps mappings in Redis with a TTL so every instance shares them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(localUserID int64) string {
	return "identity:local:" + strconv.FormatInt(localUserID, 10)
}

func (c *RedisCache) Get(ctx context.Context, localUserID int64) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	val, err := c.client.Get(ctx, cacheKey(localUserID)).Result()
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, localUserID int64, externalUUID string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, cacheKey(localUserID), externalUUID, c.ttl).Err(); err != nil {
		log.Printf("Warning: failed to cache identity for user %d: %v", localUserID, err)
	}
}

type memoryEntry struct {
	uuid    string
	expires time.Time
}

// MemoryCache is the in-process fallback used when Redis is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]memoryEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[int64]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, localUserID int64) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[localUserID]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, localUserID)
		c.mu.Unlock()
		return "", false
	}
	return e.uuid, true
}

func (c *MemoryCache) Set(_ context.Context, localUserID int64, externalUUID string) {
	c.mu.Lock()
	c.entries[localUserID] = memoryEntry{uuid: externalUUID, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
