package activity

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/arcadex/pkg/achievement"
	"github.com/canopy-network/arcadex/pkg/fetcher"
	"github.com/canopy-network/arcadex/pkg/identity"
	"github.com/canopy-network/arcadex/pkg/metadata"
	"github.com/canopy-network/arcadex/pkg/retry"
	"github.com/canopy-network/arcadex/pkg/rpc"
	"github.com/canopy-network/arcadex/pkg/starknet"
	"github.com/canopy-network/arcadex/pkg/torii"
)

const (
	collection      = "0x46da8955829adf2bda310099a0063451923f02e648cf25a1203aac6335cf0e4"
	otherCollection = "0x7ae27a31bb6526e3de9cf02f081f6ce0615ac12a6d7b85ee58b8ad7947a2809"
	viewer          = "0xa"
	rival           = "0xb"
)

var tokenFixtures = []torii.Token{
	{Contract: collection, TokenID: "0x1", Metadata: `{"attributes":[{"trait_type":"Rarity","value":"Rare"}]}`},
	{Contract: collection, TokenID: "0x2", Metadata: `{"attributes":[{"trait_type":"Rarity","value":"Common"}]}`},
	{Contract: otherCollection, TokenID: "0x9", Metadata: `{"attributes":[{"trait_type":"Class","value":"Hustler"}]}`},
}

func entity(model, value string) torii.Entity {
	return torii.Entity{HashedKeys: model, Models: map[string]json.RawMessage{model: json.RawMessage(value)}}
}

// fixtures maps project -> entities served by its indexer.
var fixtures = map[string][]torii.Entity{
	"arcade": {
		entity(torii.ModelGame, `{"id":1,"name":"Dope Wars","published":true,"whitelisted":true,"priority":1}`),
		entity(torii.ModelEdition, `{"id":1,"game_id":1,"name":"Season 1","project":"dopewars","whitelisted":true,"priority":2}`),
		entity(torii.ModelEdition, `{"id":2,"game_id":1,"name":"Season 0","project":"broken","whitelisted":true,"priority":1}`),
		entity(torii.ModelFollow, `{"follower":"0xa","followed":"0xb","time":1}`),
		entity(torii.ModelOrder, `{"id":1,"collection":"`+collection+`","token_id":"0x1","owner":"0xb","currency":"0x49d","price":"100","quantity":1,"expiration":99999999999,"status":"Placed","category":"Sell","time":5}`),
	},
	"dopewars": {
		entity(torii.ModelTrophy, `{"id":"first","index":0,"points":20,"title":"First Blood","tasks":[{"id":"KILL","total":5}]}`),
		entity(torii.ModelProgression, `{"player_id":"0xa","task_id":"KILL","count":5,"time":1000}`),
		entity(torii.ModelProgression, `{"player_id":"0xb","task_id":"KILL","count":2,"time":900}`),
		entity(torii.ModelPin, `{"player_id":"0xa","achievement_id":"first","time":1001}`),
	},
}

// fakeIndexers serves every project under /x/<project>/torii, two entities per page, and
// the identity lookup under /accounts. The "broken" project always fails.
func fakeIndexers(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/accounts/lookup" {
			_, _ = w.Write([]byte(`{"results":[{"username":"alice","addresses":["0xa"]}]}`))
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/x/"), "/")
		if len(parts) != 3 || parts[1] != "torii" {
			http.NotFound(w, r)
			return
		}
		project, endpoint := parts[0], parts[2]
		if project == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		switch endpoint {
		case "entities":
			var q torii.Query
			require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			var matched []torii.Entity
			for _, e := range fixtures[project] {
				for _, m := range q.Models {
					if _, ok := e.Models[m]; ok {
						matched = append(matched, e)
						break
					}
				}
			}
			offset, _ := strconv.Atoi(q.Cursor)
			end := offset + 2
			page := torii.Page[torii.Entity]{}
			if end < len(matched) {
				page.NextCursor = strconv.Itoa(end)
			} else {
				end = len(matched)
			}
			if offset < end {
				page.Items = matched[offset:end]
			}
			require.NoError(t, json.NewEncoder(w).Encode(page))
		case "sql":
			_, _ = w.Write([]byte(`[{"caller":"0xa","session_start":900,"session_end":"1100","action_count":3,"entrypoints":"attack,travel"}]`))
		case "tokens":
			var q torii.TokenQuery
			require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			page := torii.Page[torii.Token]{}
			for _, tok := range tokenFixtures {
				for _, contract := range q.Contracts {
					if starknet.Equal(tok.Contract, contract) {
						page.Items = append(page.Items, tok)
					}
				}
			}
			require.NoError(t, json.NewEncoder(w).Encode(page))
		case "token_balances":
			_, _ = w.Write([]byte(`{"items":[{"account_address":"0xa","contract_address":"0x49d","balance":"0x10"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newContext(t *testing.T, srv *httptest.Server) *Context {
	logger := zaptest.NewLogger(t)
	c := NewContext(logger)
	c.Indexers = torii.NewFactory(srv.URL, rpc.Opts{RPS: 1000, Burst: 1000}, logger)
	c.Coordinator = fetcher.NewCoordinator(fetcher.Opts{MaxConcurrency: 4, Logger: logger})
	c.Retry = retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond}
	c.Registry = "arcade"
	c.Viewer = viewer
	c.Metadata = metadata.NewIndexer(logger)

	cache, err := identity.NewMemoryCache(16, time.Hour)
	require.NoError(t, err)
	c.Resolver = identity.NewResolver(identity.ResolverOpts{
		Lookup: identity.NewHTTPLookup(rpc.NewHTTPWithOpts(rpc.Opts{Endpoints: []string{srv.URL + "/accounts"}})),
		Caches: []identity.Cache{cache},
		Logger: logger,
	})
	t.Cleanup(func() {
		c.Coordinator.Close()
		c.Metadata.Close()
	})
	return c
}

func TestSyncAll(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SyncAll(ctx))

	assert.Equal(t, []string{"dopewars", "broken"}, c.GameProjects())

	achievements := c.State(SurfaceAchievements).Snapshot()
	assert.Equal(t, fetcher.StatusError, achievements.Status)
	require.Len(t, achievements.Errors, 1)
	assert.Equal(t, "broken", achievements.Errors[0].Endpoint)
	assert.Equal(t, 2, achievements.Progress.Completed)
	assert.Equal(t, fetcher.StatusSuccess, c.State(SurfaceCatalog).Status())

	players := c.View().Leaderboards.Players["dopewars"]
	require.Len(t, players, 2)
	assert.Equal(t, starknet.MustNormalize(viewer), players[0].Address)
	assert.Equal(t, uint64(20), players[0].Earnings)

	stats := c.PlayerStats("")
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Rank)
	require.Len(t, stats.Pinned, 1)
	assert.Equal(t, "first", stats.Pinned[0].ID)

	assert.Equal(t, []string{starknet.MustNormalize(rival)}, c.Social.Following(viewer))
	assert.Len(t, c.Book.Listings(collection, time.Now()), 1)

	sessions := c.Playthroughs()
	require.Len(t, sessions, 1)
	assert.Equal(t, "dopewars", sessions[0].Project)
	assert.Equal(t, []string{"attack", "travel"}, sessions[0].Entrypoints)
	require.Len(t, sessions[0].Achievements, 1)
	assert.Equal(t, int64(1000), sessions[0].Achievements[0].Timestamp)
}

func TestLeaderboard_ResolvesUsernames(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SyncCatalog(ctx))
	require.NoError(t, c.SyncAchievements(ctx))

	board := c.Leaderboard(ctx, "dopewars")
	require.Len(t, board, 2)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "alice", board[0].Username)
	assert.Empty(t, board[1].Username)

	global := c.Leaderboard(ctx, "")
	assert.Len(t, global, 2)
}

func kills(player string, count uint32, ts int64) *achievement.Progression {
	return &achievement.Progression{Project: "dopewars", Player: starknet.MustNormalize(player), Task: "KILL", Count: count, Timestamp: ts}
}

func TestApply_LiveProgressionRaisesRank(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SyncCatalog(ctx))
	require.NoError(t, c.SyncAchievements(ctx))

	// A stale replay of the rival's progress must not lower it.
	c.Apply(torii.Model{Kind: torii.KindProgression, Project: "dopewars", Progression: kills(rival, 1, 800)})
	c.Apply(torii.Model{Kind: torii.KindProgression, Project: "dopewars", Progression: kills(rival, 5, 1200)})
	view := c.Recompute(ctx)

	players := view.Leaderboards.Players["dopewars"]
	require.Len(t, players, 2)
	assert.Equal(t, uint64(20), players[1].Earnings)
	events := view.Events("dopewars")
	require.Len(t, events, 2)
	assert.Equal(t, starknet.MustNormalize(rival), events[0].Player)
}

func TestBrowseTokens(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)
	ctx := context.Background()
	require.NoError(t, c.SyncOrders(ctx))

	filters := metadata.Filters{}
	filters.Toggle("Rarity", "Rare")

	got, err := c.BrowseTokens(ctx, "dopewars", collection, filters)
	require.NoError(t, err)
	require.Len(t, got.Tokens, 1)
	assert.Equal(t, "0x1", got.Tokens[0].TokenID)
	assert.Len(t, got.Index["Rarity"], 2)
	assert.Equal(t, 1, got.Counts["Rarity"]["Rare"])
	assert.Equal(t, 0, got.Counts["Rarity"]["Common"])
	assert.Len(t, got.Listings, 1)
	assert.True(t, got.Page.InitialLoadComplete)

	all, err := c.BrowseTokens(ctx, "dopewars", collection, metadata.Filters{})
	require.NoError(t, err)
	assert.Len(t, all.Tokens, 2)
}

func TestBrowseTokens_SwitchingCollectionClearsPrevious(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)
	ctx := context.Background()

	first, err := c.BrowseTokens(ctx, "dopewars", collection, metadata.Filters{})
	require.NoError(t, err)
	require.Len(t, first.Tokens, 2)
	require.Len(t, c.StoredTokens("dopewars", collection), 2)

	second, err := c.BrowseTokens(ctx, "dopewars", otherCollection, metadata.Filters{})
	require.NoError(t, err)
	require.Len(t, second.Tokens, 1)
	assert.Equal(t, "0x9", second.Tokens[0].TokenID)
	assert.Contains(t, second.Index, "Class")
	assert.NotContains(t, second.Index, "Rarity")
	assert.Equal(t, 1, second.Page.CurrentPage)
	assert.True(t, second.Page.InitialLoadComplete)

	assert.Empty(t, c.StoredTokens("dopewars", collection), "previous collection is dropped")
	assert.Len(t, c.StoredTokens("dopewars", otherCollection), 1)

	// Browsing the same collection again refreshes it in place.
	again, err := c.BrowseTokens(ctx, "dopewars", otherCollection, metadata.Filters{})
	require.NoError(t, err)
	assert.Len(t, again.Tokens, 1)

	_, err = c.BrowseTokens(ctx, "dopewars", "not an address", metadata.Filters{})
	assert.Error(t, err)
}

func TestBalances_MergeOrderDoesNotMatter(t *testing.T) {
	token := starknet.MustNormalize("0x49d")
	acct := starknet.MustNormalize(viewer)
	reports := []struct {
		project string
		balance int64
	}{
		{project: "dopewars", balance: 16},
		{project: "lootsurvivor", balance: 32},
	}

	tests := []struct {
		name  string
		order []int
	}{
		{name: "dopewars first", order: []int{0, 1}},
		{name: "lootsurvivor first", order: []int{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext(zaptest.NewLogger(t))
			c.Projects = []string{"dopewars", "lootsurvivor"}
			for _, i := range tt.order {
				c.mergeBalances(acct, reports[i].project, map[string]*big.Int{token: big.NewInt(reports[i].balance)})
			}
			assert.Equal(t, int64(16), c.Balances(viewer)[token].Int64())
			assert.Equal(t, int64(32), c.ProjectBalances(viewer, "lootsurvivor")[token].Int64())
		})
	}
}

func TestRecompute_ConcurrentLiveUpdatesAreNotLost(t *testing.T) {
	c := NewContext(zaptest.NewLogger(t))
	ctx := context.Background()
	const projects = 8

	for i := 0; i < projects; i++ {
		project := "p" + strconv.Itoa(i)
		c.Apply(torii.Model{Kind: torii.KindTrophy, Project: project, Trophy: &achievement.Trophy{
			ID: "first", Project: project, Points: 1, Tasks: []achievement.Task{{ID: "KILL", Total: 1}},
		}})
		for j := 0; j < 200; j++ {
			other := "0x" + strconv.FormatInt(int64(0x1000+j), 16)
			c.Apply(torii.Model{Kind: torii.KindProgression, Project: project, Progression: &achievement.Progression{
				Project: project, Player: starknet.MustNormalize(other), Task: "KILL", Count: 0,
			}})
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < projects; i++ {
		wg.Add(1)
		go func(project string) {
			defer wg.Done()
			c.Apply(torii.Model{Kind: torii.KindProgression, Project: project, Progression: &achievement.Progression{
				Project: project, Player: starknet.MustNormalize(viewer), Task: "KILL", Count: 1, Timestamp: 1000,
			}})
			c.Recompute(ctx)
		}("p" + strconv.Itoa(i))
	}
	wg.Wait()

	assert.Equal(t, uint64(projects), achievement.Earnings(c.View().Leaderboards.Globals, viewer))
}

func TestSyncBalances(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)
	c.Projects = []string{"dopewars", "broken"}
	ctx := context.Background()

	require.NoError(t, c.SyncBalances(ctx, viewer))
	balances := c.Balances(viewer)
	require.Contains(t, balances, starknet.MustNormalize("0x49d"))
	assert.Equal(t, 0, balances[starknet.MustNormalize("0x49d")].Cmp(big.NewInt(16)))
	assert.Equal(t, fetcher.StatusError, c.State(SurfaceBalances).Status())

	assert.Error(t, c.SyncBalances(ctx, "not an address"))
}

func TestListen_ReconnectsUntilCanceled(t *testing.T) {
	srv := fakeIndexers(t)
	defer srv.Close()
	c := newContext(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Listen(ctx, "dopewars", marketplaceModels)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
