package activity

import (
	"context"
	"math/big"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/fetcher"
	"github.com/canopy-network/arcadex/pkg/marketplace"
	"github.com/canopy-network/arcadex/pkg/metadata"
	"github.com/canopy-network/arcadex/pkg/retry"
	"github.com/canopy-network/arcadex/pkg/starknet"
	"github.com/canopy-network/arcadex/pkg/torii"
)

// Collection is one browsed collection: its tokens narrowed by the filters, the trait
// counts of the narrowed set and the active listings.
type Collection struct {
	Project  string
	Contract string
	Tokens   []torii.Token
	Index    metadata.Index
	Counts   metadata.Counts
	Listings []marketplace.Order
	Page     fetcher.PageState
}

// browser is the single token browsing surface: one target, one paginator.
type browser struct {
	mu     sync.Mutex
	target string
	pager  *fetcher.Paginator[torii.Token]
}

func tokenStoreKey(project, contract string) string {
	return project + ":" + contract
}

// browse points the browser at key. Switching to another target drops the old target's
// cached tokens and resets the old paginator.
func (c *Context) browse(key, project, contract string) *fetcher.Paginator[torii.Token] {
	c.browser.mu.Lock()
	if c.browser.target == key && c.browser.pager != nil {
		pager := c.browser.pager
		c.browser.mu.Unlock()
		return pager
	}
	old := c.browser.pager
	if old != nil {
		c.tokens.Delete(c.browser.target)
	}

	client := c.Indexers.Client(project)
	pager := fetcher.NewPaginator(func(ctx context.Context, cursor string) (fetcher.Page[torii.Token], error) {
		page, err := client.Tokens(ctx, torii.TokenQuery{Contracts: []string{contract}, Cursor: cursor})
		if err != nil {
			return fetcher.Page[torii.Token]{}, err
		}
		return fetcher.Page[torii.Token]{Items: page.Items, NextCursor: page.NextCursor, Endpoint: project}, nil
	}, fetcher.PaginatorOpts[torii.Token]{
		OnPage: func(page fetcher.Page[torii.Token]) {
			c.storeTokens(key, page.Items)
		},
		Retry:  c.Retry,
		Logger: c.Logger,
	})
	c.browser.target = key
	c.browser.pager = pager
	c.browser.mu.Unlock()

	// The old paginator may still be inside a page load that waits on browser.mu.
	if old != nil {
		old.Reset()
	}
	return pager
}

// storeTokens merges a page into the token store unless the browser moved on to another
// target meanwhile.
func (c *Context) storeTokens(key string, tokens []torii.Token) {
	c.browser.mu.Lock()
	defer c.browser.mu.Unlock()
	if c.browser.target != key {
		return
	}
	fresh := make(map[string]torii.Token, len(tokens))
	for _, t := range tokens {
		fresh[marketplace.TokenKey(t.TokenID)] = t
	}
	c.tokens.Merge(key, fresh)
}

// StoredTokens returns the cached tokens of a collection ordered by token id.
func (c *Context) StoredTokens(project, contract string) []torii.Token {
	current, _ := c.tokens.Get(tokenStoreKey(project, starknet.MustNormalize(contract)))
	out := make([]torii.Token, 0, len(current))
	for _, t := range current {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := marketplace.TokenKey(out[i].TokenID), marketplace.TokenKey(out[j].TokenID)
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}

// BrowseTokens loads every token of contract from project's indexer into the token store,
// builds the trait index and applies filters. Browsing another collection aborts the
// previous browse and clears its cached tokens.
func (c *Context) BrowseTokens(ctx context.Context, project, contract string, filters metadata.Filters) (Collection, error) {
	normalized, err := starknet.Normalize(contract)
	if err != nil {
		return Collection{}, err
	}
	ctx, id, release := c.Sessions.Begin(ctx, SurfaceTokens)
	defer release()

	key := tokenStoreKey(project, normalized)
	pager := c.browse(key, project, contract)
	if _, err := pager.AutoFetch(ctx); err != nil {
		return Collection{}, err
	}

	tokens := c.StoredTokens(project, normalized)
	entries := make([]metadata.Token, len(tokens))
	byID := make(map[string]torii.Token, len(tokens))
	for i, t := range tokens {
		tk := marketplace.TokenKey(t.TokenID)
		entries[i] = metadata.Token{ID: tk, Metadata: t.Metadata}
		byID[tk] = t
	}
	idx, err := c.Metadata.Build(entries).Wait(ctx)
	if err != nil {
		return Collection{}, err
	}

	matched := filters.Filter(entries)
	out := Collection{
		Project:  project,
		Contract: normalized,
		Tokens:   make([]torii.Token, 0, len(matched)),
		Index:    idx,
		Counts:   metadata.CalculateFilterCounts(idx, filters.Apply(idx)),
		Listings: c.Book.Listings(contract, time.Now()),
		Page:     pager.State(),
	}
	for _, e := range matched {
		out.Tokens = append(out.Tokens, byID[e.ID])
	}
	c.Logger.Debug("Browsed collection",
		zap.String("session", id),
		zap.String("project", project),
		zap.Int("tokens", len(tokens)),
		zap.Int("matched", len(out.Tokens)))
	return out, nil
}

// SyncBalances loads the token balances of account from every game project.
func (c *Context) SyncBalances(ctx context.Context, account string) error {
	acct, err := starknet.Normalize(account)
	if err != nil {
		return err
	}
	ctx, _, release := c.Sessions.Begin(ctx, SurfaceBalances+":"+acct)
	defer release()

	projects := c.GameProjects()
	state := c.State(SurfaceBalances)
	state.StartLoading(len(projects))

	source := func(ctx context.Context, project string, yield fetcher.Yield[[]torii.TokenBalance]) error {
		client := c.Indexers.Client(project)
		cursor := ""
		for {
			page, err := retry.DoValue(ctx, c.Retry, c.Logger, "balances of "+project, func(ctx context.Context) (torii.Page[torii.TokenBalance], error) {
				return client.TokenBalances(ctx, torii.BalanceQuery{Accounts: []string{acct}, Cursor: cursor})
			})
			if err != nil {
				return err
			}
			if err := yield(page.Items); err != nil {
				return err
			}
			if page.NextCursor == "" {
				return nil
			}
			cursor = page.NextCursor
		}
	}

	return fetcher.Run(ctx, c.Coordinator, projects, source, fetcher.Track(state, fetcher.Handlers[[]torii.TokenBalance]{
		OnData: func(project string, page []torii.TokenBalance) error {
			fresh := make(map[string]*big.Int, len(page))
			for _, b := range page {
				n, err := starknet.ParseFelt(b.Balance)
				if err != nil {
					c.Logger.Warn("Skipping balance", zap.String("project", project), zap.String("contract", b.Contract), zap.Error(err))
					continue
				}
				fresh[balanceKey(b)] = n
			}
			c.mergeBalances(acct, project, fresh)
			return nil
		},
	}))
}

// balanceKey is the normalized contract, suffixed with the token id for NFTs.
func balanceKey(b torii.TokenBalance) string {
	key := starknet.MustNormalize(b.Contract)
	if b.TokenID != "" {
		key += ":" + marketplace.TokenKey(b.TokenID)
	}
	return key
}

func balanceStoreKey(account, project string) string {
	return account + "/" + project
}

// mergeBalances records balances one project reported for account. Pages of one project
// arrive in order, so the incoming value is that project's newest.
func (c *Context) mergeBalances(account, project string, fresh map[string]*big.Int) {
	if len(fresh) == 0 {
		return
	}
	c.balances.Merge(balanceStoreKey(account, project), fresh)
}

// ProjectBalances returns the balances of account reported by one project.
func (c *Context) ProjectBalances(account, project string) map[string]*big.Int {
	current, _ := c.balances.Get(balanceStoreKey(starknet.MustNormalize(account), project))
	out := make(map[string]*big.Int, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// Balances returns the balances of account keyed by contract (or contract:token id) across
// every project. When several projects report the same key, the first project in
// GameProjects order wins, then projects no longer in the catalog by name.
func (c *Context) Balances(account string) map[string]*big.Int {
	acct := starknet.MustNormalize(account)
	prefix := balanceStoreKey(acct, "")

	byProject := map[string]map[string]*big.Int{}
	var stale []string
	for key, balances := range c.balances.Snapshot() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		byProject[strings.TrimPrefix(key, prefix)] = balances
	}
	order := make([]string, 0, len(byProject))
	for _, project := range c.GameProjects() {
		if _, ok := byProject[project]; ok {
			order = append(order, project)
		}
	}
	for project := range byProject {
		if !slices.Contains(order, project) {
			stale = append(stale, project)
		}
	}
	sort.Strings(stale)
	order = append(order, stale...)

	out := map[string]*big.Int{}
	for _, project := range order {
		for k, v := range byProject[project] {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}
