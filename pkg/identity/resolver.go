// Package identity resolves human readable usernames for player addresses.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/rpc"
	"github.com/canopy-network/arcadex/pkg/starknet"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultCacheSize = 4096
	DefaultBatchSize = 100
)

// Lookup asks the identity provider for the usernames of addresses. Addresses without a
// username are absent from the result.
type Lookup interface {
	Usernames(ctx context.Context, addresses []string) (map[string]string, error)
}

// ResolverOpts configures a Resolver.
type ResolverOpts struct {
	Lookup    Lookup
	Caches    []Cache
	BatchSize int
	Logger    *zap.Logger
}

// Resolver serves usernames from its caches and batches the misses to the provider.
type Resolver struct {
	lookup    Lookup
	caches    []Cache
	batchSize int
	logger    *zap.Logger
	group     singleflight.Group
}

func NewResolver(o ResolverOpts) *Resolver {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return &Resolver{
		lookup:    o.Lookup,
		caches:    o.Caches,
		batchSize: o.BatchSize,
		logger:    logging.OrNop(o.Logger),
	}
}

// Usernames returns address -> username for the addresses that have one. Keys are the
// normalized addresses. The zero address and invalid addresses are never looked up.
func (r *Resolver) Usernames(ctx context.Context, addresses []string) (map[string]string, error) {
	wanted := make([]string, 0, len(addresses))
	seen := map[string]struct{}{}
	for _, a := range addresses {
		n, err := starknet.Normalize(a)
		if err != nil || n == starknet.ZeroAddress {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		wanted = append(wanted, n)
	}

	resolved := make(map[string]string, len(wanted))
	missing := wanted
	for i, c := range r.caches {
		if len(missing) == 0 {
			break
		}
		hits := c.Get(ctx, missing)
		if len(hits) > 0 {
			// Backfill the faster caches in front of this one.
			for _, front := range r.caches[:i] {
				front.Set(ctx, hits)
			}
		}
		next := missing[:0:0]
		for _, addr := range missing {
			if name, ok := hits[addr]; ok {
				resolved[addr] = name
				continue
			}
			next = append(next, addr)
		}
		missing = next
	}

	if len(missing) > 0 && r.lookup != nil {
		sort.Strings(missing)
		for start := 0; start < len(missing); start += r.batchSize {
			end := start + r.batchSize
			if end > len(missing) {
				end = len(missing)
			}
			names, err := r.fetch(ctx, missing[start:end])
			if err != nil {
				return withoutEmpty(resolved), err
			}
			for addr, name := range names {
				resolved[addr] = name
			}
		}
	}

	return withoutEmpty(resolved), nil
}

// Username resolves a single address; ok is false when it has no username.
func (r *Resolver) Username(ctx context.Context, address string) (string, bool, error) {
	names, err := r.Usernames(ctx, []string{address})
	if err != nil {
		return "", false, err
	}
	name, ok := names[starknet.MustNormalize(address)]
	return name, ok, nil
}

// fetch resolves one batch through the provider. Concurrent identical batches share one
// call. Addresses the provider does not know are cached as empty names.
func (r *Resolver) fetch(ctx context.Context, batch []string) (map[string]string, error) {
	key := strings.Join(batch, ",")
	v, err, _ := r.group.Do(key, func() (any, error) {
		found, err := r.lookup.Usernames(ctx, batch)
		if err != nil {
			r.logger.Warn("Username lookup failed", zap.Int("addresses", len(batch)), zap.Error(err))
			return nil, err
		}
		names := make(map[string]string, len(batch))
		for _, addr := range batch {
			names[addr] = ""
		}
		for addr, name := range found {
			n, err := starknet.Normalize(addr)
			if err != nil {
				continue
			}
			if _, ok := names[n]; ok {
				names[n] = name
			}
		}
		for _, c := range r.caches {
			c.Set(ctx, names)
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func withoutEmpty(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// HTTPLookup queries the account service's lookup endpoint.
type HTTPLookup struct {
	client *rpc.HTTPClient
	path   string
}

func NewHTTPLookup(client *rpc.HTTPClient) *HTTPLookup {
	return &HTTPLookup{client: client, path: "/lookup"}
}

type lookupRequest struct {
	Addresses []string `json:"addresses"`
}

type lookupResponse struct {
	Results []struct {
		Username  string   `json:"username"`
		Addresses []string `json:"addresses"`
	} `json:"results"`
}

func (h *HTTPLookup) Usernames(ctx context.Context, addresses []string) (map[string]string, error) {
	var resp lookupResponse
	if err := h.client.DoJSON(ctx, http.MethodPost, h.path, lookupRequest{Addresses: addresses}, &resp); err != nil {
		return nil, fmt.Errorf("username lookup: %w", err)
	}
	out := make(map[string]string, len(resp.Results))
	for _, res := range resp.Results {
		for _, addr := range res.Addresses {
			out[starknet.MustNormalize(addr)] = res.Username
		}
	}
	return out, nil
}
