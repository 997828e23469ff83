package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/arcadex/pkg/redis"
	"github.com/canopy-network/arcadex/pkg/rpc"
	"github.com/canopy-network/arcadex/pkg/starknet"
)

type fakeLookup struct {
	mu      sync.Mutex
	names   map[string]string
	batches [][]string
	err     error
}

func (f *fakeLookup) Usernames(_ context.Context, addresses []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), addresses...))
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, a := range addresses {
		if n, ok := f.names[a]; ok {
			out[a] = n
		}
	}
	return out, nil
}

func addr(s string) string { return starknet.MustNormalize(s) }

func newResolver(t *testing.T, lookup Lookup, batch int) (*Resolver, *MemoryCache) {
	cache, err := NewMemoryCache(16, time.Hour)
	require.NoError(t, err)
	return NewResolver(ResolverOpts{Lookup: lookup, Caches: []Cache{cache}, BatchSize: batch, Logger: zaptest.NewLogger(t)}), cache
}

func TestResolver_SkipsZeroAndInvalid(t *testing.T) {
	lookup := &fakeLookup{names: map[string]string{addr("0x1"): "alice"}}
	r, _ := newResolver(t, lookup, 0)

	names, err := r.Usernames(context.Background(), []string{"0x0", starknet.ZeroAddress, "garbage", "0x01", "0x1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{addr("0x1"): "alice"}, names)
	require.Len(t, lookup.batches, 1)
	assert.Equal(t, []string{addr("0x1")}, lookup.batches[0])

	_, err = r.Usernames(context.Background(), []string{"0x0"})
	require.NoError(t, err)
	assert.Len(t, lookup.batches, 1, "zero address never reaches the provider")
}

func TestResolver_CachesHitsAndMisses(t *testing.T) {
	lookup := &fakeLookup{names: map[string]string{addr("0x1"): "alice"}}
	r, _ := newResolver(t, lookup, 0)

	for i := 0; i < 3; i++ {
		names, err := r.Usernames(context.Background(), []string{"0x1", "0x2"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{addr("0x1"): "alice"}, names)
	}
	assert.Len(t, lookup.batches, 1)

	name, ok, err := r.Username(context.Background(), "0x2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestResolver_Batches(t *testing.T) {
	lookup := &fakeLookup{names: map[string]string{}}
	r, _ := newResolver(t, lookup, 2)

	_, err := r.Usernames(context.Background(), []string{"0x5", "0x4", "0x3", "0x2", "0x1"})
	require.NoError(t, err)
	require.Len(t, lookup.batches, 3)
	assert.Len(t, lookup.batches[0], 2)
	assert.Len(t, lookup.batches[2], 1)
}

func TestResolver_LookupError(t *testing.T) {
	boom := errors.New("provider down")
	r, _ := newResolver(t, &fakeLookup{err: boom}, 0)

	_, err := r.Usernames(context.Background(), []string{"0x1"})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryCache_Expires(t *testing.T) {
	cache, err := NewMemoryCache(0, 0)
	require.NoError(t, err)
	now := time.Unix(1_000, 0)
	cache.now = func() time.Time { return now }

	cache.Set(context.Background(), map[string]string{"a": "alice"})
	assert.Equal(t, map[string]string{"a": "alice"}, cache.Get(context.Background(), []string{"a", "b"}))

	now = now.Add(DefaultTTL + time.Second)
	assert.Empty(t, cache.Get(context.Background(), []string{"a"}))
}

func TestResolver_BackfillsFrontCache(t *testing.T) {
	front, err := NewMemoryCache(4, time.Hour)
	require.NoError(t, err)
	back, err := NewMemoryCache(4, time.Hour)
	require.NoError(t, err)
	back.Set(context.Background(), map[string]string{addr("0x9"): "nine"})

	lookup := &fakeLookup{}
	r := NewResolver(ResolverOpts{Lookup: lookup, Caches: []Cache{front, back}})
	names, err := r.Usernames(context.Background(), []string{"0x9"})
	require.NoError(t, err)
	assert.Equal(t, "nine", names[addr("0x9")])
	assert.Empty(t, lookup.batches)
	assert.Equal(t, "nine", front.Get(context.Background(), []string{addr("0x9")})[addr("0x9")])
}

func TestHTTPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		var req lookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Addresses, 1)
		_, _ = w.Write([]byte(`{"results":[{"username":"alice","addresses":["0x1"]}]}`))
	}))
	defer srv.Close()

	h := NewHTTPLookup(rpc.NewHTTPWithOpts(rpc.Opts{Endpoints: []string{srv.URL}}))
	names, err := h.Usernames(context.Background(), []string{addr("0x1")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{addr("0x1"): "alice"}, names)
}

func TestRedisCache_ErrorsAreMisses(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	client := redis.NewFromRedis(rdb, redis.DefaultKeyPrefix, zaptest.NewLogger(t))
	defer client.Close()

	cache := NewRedisCache(client, 0)
	ctx := context.Background()
	cache.Set(ctx, map[string]string{"0xa": "alice"})
	assert.Empty(t, cache.Get(ctx, []string{"0xa"}))

	lookup := &fakeLookup{names: map[string]string{starknet.MustNormalize("0xa"): "alice"}}
	r := NewResolver(ResolverOpts{Lookup: lookup, Caches: []Cache{cache}, Logger: zaptest.NewLogger(t)})
	names, err := r.Usernames(ctx, []string{"0xa"})
	require.NoError(t, err)
	assert.Equal(t, "alice", names[starknet.MustNormalize("0xa")])
}
