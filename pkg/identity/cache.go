package identity

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/canopy-network/arcadex/pkg/redis"
)

// Cache stores resolved usernames. An empty name records an address without a username.
type Cache interface {
	Get(ctx context.Context, addresses []string) map[string]string
	Set(ctx context.Context, names map[string]string)
}

type entry struct {
	name    string
	expires time.Time
}

// MemoryCache is a bounded in-process cache whose entries expire after a TTL.
type MemoryCache struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (m *MemoryCache) Get(_ context.Context, addresses []string) map[string]string {
	out := make(map[string]string, len(addresses))
	now := m.now()
	for _, addr := range addresses {
		v, ok := m.cache.Get(addr)
		if !ok {
			continue
		}
		e := v.(entry)
		if now.After(e.expires) {
			m.cache.Remove(addr)
			continue
		}
		out[addr] = e.name
	}
	return out
}

func (m *MemoryCache) Set(_ context.Context, names map[string]string) {
	expires := m.now().Add(m.ttl)
	for addr, name := range names {
		m.cache.Add(addr, entry{name: name, expires: expires})
	}
}

// RedisCache shares resolved usernames between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) key(addr string) string {
	return r.client.Key("username", addr)
}

// Get treats Redis errors as misses.
func (r *RedisCache) Get(ctx context.Context, addresses []string) map[string]string {
	keys := make([]string, len(addresses))
	for i, addr := range addresses {
		keys[i] = r.key(addr)
	}
	found, err := r.client.MGetStrings(ctx, keys...)
	if err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(found))
	for i, addr := range addresses {
		if name, ok := found[keys[i]]; ok {
			out[addr] = name
		}
	}
	return out
}

func (r *RedisCache) Set(ctx context.Context, names map[string]string) {
	for addr, name := range names {
		r.client.SetString(ctx, r.key(addr), name, r.ttl)
	}
}
