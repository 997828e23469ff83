package activity

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/achievement"
	"github.com/canopy-network/arcadex/pkg/catalog"
	"github.com/canopy-network/arcadex/pkg/fetcher"
	"github.com/canopy-network/arcadex/pkg/identity"
	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/marketplace"
	"github.com/canopy-network/arcadex/pkg/metadata"
	"github.com/canopy-network/arcadex/pkg/playthrough"
	"github.com/canopy-network/arcadex/pkg/redis"
	"github.com/canopy-network/arcadex/pkg/retry"
	"github.com/canopy-network/arcadex/pkg/social"
	"github.com/canopy-network/arcadex/pkg/store"
	"github.com/canopy-network/arcadex/pkg/torii"
)

// Fetch surfaces, one fetcher.State and one session key each.
const (
	SurfaceCatalog      = "catalog"
	SurfaceAchievements = "achievements"
	SurfaceSocial       = "social"
	SurfaceMarketplace  = "marketplace"
	SurfacePlaythroughs = "playthroughs"
	SurfaceBalances     = "balances"
	SurfaceTokens       = "tokens"
)

// Context holds the shared stores and clients every activity works on.
type Context struct {
	Logger *zap.Logger

	// Indexers hands out the per-project indexer clients.
	Indexers    *torii.Factory
	Coordinator *fetcher.Coordinator
	Sessions    *fetcher.Sessions
	Retry       retry.Config

	// Registry is the project holding catalog and marketplace models. Projects is the
	// fallback endpoint list while the catalog has no whitelisted edition.
	Registry string
	Projects []string
	Viewer   string

	PlaythroughGap      time.Duration
	PlaythroughLookback int
	PlaythroughLimit    int

	Catalog  *catalog.Catalog
	Social   *social.Graph
	Book     *marketplace.Book
	Metadata *metadata.Indexer
	Resolver *identity.Resolver
	// RedisClient is optional; recompute notifications are published when set.
	RedisClient *redis.Client

	trophies     *store.Store[string, map[string]achievement.Trophy]
	progressions *store.Store[string, map[string]achievement.Progression]
	sessions     *store.Store[string, []playthrough.Session]
	// balances is keyed by account/project; each project only ever merges into its own key.
	balances *store.Store[string, map[string]*big.Int]
	states   *xsync.Map[string, *fetcher.State]
	// tokens is keyed by project:contract of the browsed collection.
	tokens  *store.Store[string, map[string]torii.Token]
	browser browser

	// recomputeMu makes snapshot and publish of the view one step.
	recomputeMu sync.Mutex
	view        atomic.Pointer[achievement.View]
}

// NewContext returns a context with empty stores. Exported fields are filled in by the caller.
func NewContext(logger *zap.Logger) *Context {
	logger = logging.OrNop(logger)
	c := &Context{
		Logger:       logger,
		Sessions:     fetcher.NewSessions(),
		Catalog:      catalog.New(),
		Social:       social.NewGraph(),
		Book:         marketplace.NewBook(logger),
		trophies:     store.New[string, map[string]achievement.Trophy](store.MapMerger[string](func(_, incoming achievement.Trophy) achievement.Trophy { return incoming })),
		progressions: store.New[string, map[string]achievement.Progression](store.MapMerger[string](achievement.Newer)),
		sessions:     store.New[string, []playthrough.Session](nil),
		balances:     store.New[string, map[string]*big.Int](store.MapMerger[string](func(_, incoming *big.Int) *big.Int { return incoming })),
		states:       xsync.NewMap[string, *fetcher.State](),
		tokens:       store.New[string, map[string]torii.Token](store.MapMerger[string](func(_, incoming torii.Token) torii.Token { return incoming })),
	}
	empty := achievement.Recompute(achievement.Input{})
	c.view.Store(&empty)
	return c
}

// State returns the fetch state of a surface.
func (c *Context) State(surface string) *fetcher.State {
	s, _ := c.states.LoadOrCompute(surface, func() (*fetcher.State, bool) {
		return fetcher.NewState(), false
	})
	return s
}

// Status folds the states of surfaces into the status of one read view.
func (c *Context) Status(surfaces ...string) fetcher.Status {
	snaps := make([]fetcher.Snapshot, 0, len(surfaces))
	for _, s := range surfaces {
		snaps = append(snaps, c.State(s).Snapshot())
	}
	return fetcher.Aggregate(snaps...)
}

// GameProjects returns the projects achievements, social and playthroughs are fetched
// from: the whitelisted editions of the catalog, or the configured list before the
// catalog is loaded.
func (c *Context) GameProjects() []string {
	if projects := c.Catalog.Projects(); len(projects) > 0 {
		return projects
	}
	return append([]string(nil), c.Projects...)
}

func (c *Context) registryProjects() []string {
	if c.Registry != "" {
		return []string{c.Registry}
	}
	return c.GameProjects()
}

// Apply routes a decoded indexer model to the store that owns it.
func (c *Context) Apply(m torii.Model) {
	switch m.Kind {
	case torii.KindTrophy:
		c.trophies.Merge(m.Project, map[string]achievement.Trophy{m.Trophy.ID: *m.Trophy})
	case torii.KindProgression:
		p := *m.Progression
		c.progressions.Merge(m.Project, map[string]achievement.Progression{p.Player + "/" + p.Task: p})
	case torii.KindOrder:
		c.Book.Apply(*m.Order)
	case torii.KindSale:
		c.Book.RecordSale(*m.Sale)
	case torii.KindFollow:
		c.Social.ApplyFollow(*m.Follow)
	case torii.KindPin:
		c.Social.ApplyPin(*m.Pin)
	case torii.KindGame:
		c.Catalog.PutGame(*m.Game)
	case torii.KindEdition:
		c.Catalog.PutEdition(*m.Edition)
	default:
		c.Logger.Debug("Ignoring model", zap.String("kind", m.Kind.String()))
	}
}

// modelSource pages through models on one project's indexer, retrying each page.
func (c *Context) modelSource(models []string) fetcher.SourceFunc[[]torii.Model] {
	return func(ctx context.Context, project string, yield fetcher.Yield[[]torii.Model]) error {
		client := c.Indexers.Client(project)
		cursor := ""
		for {
			page, err := retry.DoValue(ctx, c.Retry, c.Logger, "fetch models of "+project, func(ctx context.Context) (torii.Page[torii.Model], error) {
				return client.Models(ctx, torii.Query{Models: models, Cursor: cursor})
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
}

// syncModels fetches models from every endpoint under one session per surface, applying
// each page as it arrives. A newer sync of the same surface aborts this one.
func (c *Context) syncModels(ctx context.Context, surface string, endpoints []string, models []string) error {
	ctx, id, release := c.Sessions.Begin(ctx, surface)
	defer release()

	logger := c.Logger.With(zap.String("surface", surface), zap.String("session", id))
	state := c.State(surface)
	state.StartLoading(len(endpoints))
	start := time.Now()

	err := fetcher.Run(ctx, c.Coordinator, endpoints, c.modelSource(models), fetcher.Track(state, fetcher.Handlers[[]torii.Model]{
		OnData: func(_ string, page []torii.Model) error {
			for _, m := range page {
				c.Apply(m)
			}
			return nil
		},
		OnError: func(endpoint string, err error) {
			logger.Warn("Sync failed for endpoint", zap.String("endpoint", endpoint), zap.Error(err))
		},
		OnComplete: func(hasError bool) {
			logger.Info("Sync complete",
				zap.Int("endpoints", len(endpoints)),
				zap.Bool("hasError", hasError),
				zap.Float64("durationMs", float64(time.Since(start).Microseconds())/1000.0))
		},
	}))
	if err != nil {
		logger.Debug("Sync aborted", zap.Error(err))
	}
	return err
}

// trophyInput and progressionInput flatten the stores into the engine's input, sorted
// for a deterministic first-appearance order.
func (c *Context) trophyInput() map[string][]achievement.Trophy {
	out := map[string][]achievement.Trophy{}
	for project, byID := range c.trophies.Snapshot() {
		list := make([]achievement.Trophy, 0, len(byID))
		for _, t := range byID {
			list = append(list, t)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		out[project] = list
	}
	return out
}

func (c *Context) progressionInput() map[string][]achievement.Progression {
	out := map[string][]achievement.Progression{}
	for project, byKey := range c.progressions.Snapshot() {
		list := make([]achievement.Progression, 0, len(byKey))
		for _, p := range byKey {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Timestamp != list[j].Timestamp {
				return list[i].Timestamp < list[j].Timestamp
			}
			if list[i].Player != list[j].Player {
				return list[i].Player < list[j].Player
			}
			return list[i].Task < list[j].Task
		})
		out[project] = list
	}
	return out
}

// Recompute rebuilds the achievement view from the stores and publishes a notification
// when Redis is configured.
func (c *Context) Recompute(ctx context.Context) achievement.View {
	c.recomputeMu.Lock()
	view := achievement.Recompute(achievement.Input{
		Trophies:     c.trophyInput(),
		Progressions: c.progressionInput(),
		Viewer:       c.Viewer,
	})
	c.view.Store(&view)
	c.recomputeMu.Unlock()

	if c.RedisClient != nil {
		c.RedisClient.Publish(ctx, c.RedisClient.Key("events"), map[string]any{
			"type":     "achievements.recomputed",
			"players":  len(view.Leaderboards.Globals),
			"projects": len(view.Achievements),
		})
	}
	return view
}

// View returns the last recomputed achievement view.
func (c *Context) View() achievement.View {
	return *c.view.Load()
}
