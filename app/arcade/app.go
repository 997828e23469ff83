package arcade

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/app/arcade/activity"
	"github.com/canopy-network/arcadex/pkg/config"
	"github.com/canopy-network/arcadex/pkg/fetcher"
	"github.com/canopy-network/arcadex/pkg/identity"
	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/metadata"
	"github.com/canopy-network/arcadex/pkg/redis"
	"github.com/canopy-network/arcadex/pkg/retry"
	"github.com/canopy-network/arcadex/pkg/rpc"
	"github.com/canopy-network/arcadex/pkg/torii"
	"github.com/canopy-network/arcadex/pkg/utils"
)

// App syncs the arcade data layer from the project indexers, keeps it live through
// subscriptions and polls the viewer's balances.
type App struct {
	Config     config.Config
	Activities *activity.Context
	Poller     *rpc.Poller
	// ChainName is the chain the RPC endpoint serves, e.g. SN_MAIN.
	ChainName string

	// Cron triggers a full resync every Config.Indexer.ResyncInterval.
	Cron *cron.Cron

	RedisClient *redis.Client
	Logger      *zap.Logger
}

// Initialize initializes the application from ARCADE_CONFIG (optional TOML file) and the
// environment.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.Load(utils.Env("ARCADE_CONFIG", ""))
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to redis", zap.Error(err))
		}
	}

	app, err := New(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("Unable to initialize arcade", zap.Error(err))
	}
	return app
}

// New wires the application from an already loaded configuration. redisClient may be nil.
func New(ctx context.Context, cfg config.Config, redisClient *redis.Client, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	caches := make([]identity.Cache, 0, 2)
	memory, err := identity.NewMemoryCache(cfg.Identity.CacheSize, cfg.Identity.TTL.Std())
	if err != nil {
		return nil, fmt.Errorf("identity cache: %w", err)
	}
	caches = append(caches, memory)
	if redisClient != nil {
		caches = append(caches, identity.NewRedisCache(redisClient, cfg.Identity.TTL.Std()))
	}

	ac := activity.NewContext(logger)
	ac.Indexers = torii.NewFactory(cfg.Indexer.URL, rpc.Opts{RPS: cfg.Indexer.RPS}, logger)
	ac.Coordinator = fetcher.NewCoordinator(fetcher.Opts{MaxConcurrency: cfg.Indexer.MaxConcurrency, Logger: logger})
	ac.Retry = retry.Config{MaxAttempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay.Std()}
	ac.Registry = cfg.Indexer.Registry
	ac.Projects = cfg.Indexer.Projects
	ac.Viewer = cfg.Viewer
	ac.PlaythroughGap = cfg.Playthrough.SessionGap.Std()
	ac.PlaythroughLookback = cfg.Playthrough.LookbackDays
	ac.PlaythroughLimit = cfg.Playthrough.Limit
	ac.Metadata = metadata.NewIndexer(logger)
	ac.RedisClient = redisClient
	ac.Resolver = identity.NewResolver(identity.ResolverOpts{
		Lookup:    identity.NewHTTPLookup(rpc.NewHTTPWithOpts(rpc.Opts{Endpoints: []string{cfg.Identity.URL}})),
		Caches:    caches,
		BatchSize: cfg.Identity.BatchSize,
		Logger:    logger,
	})

	rpcClient := rpc.NewHTTPFactory(rpc.Opts{}).NewClient([]string{cfg.RPC.URL})
	poller := rpc.NewPoller(rpcClient, rpc.PollerOpts{
		Interval: cfg.RPC.PollInterval.Std(),
		Logger:   logger,
		OnUpdate: func(account string, balances rpc.Balances) {
			fields := make([]zap.Field, 0, len(balances)+1)
			fields = append(fields, zap.String("account", account))
			for token, bal := range balances {
				fields = append(fields, zap.String(token, bal.String()))
			}
			logger.Debug("Balances updated", fields...)
			if redisClient != nil {
				redisClient.Publish(ctx, redisClient.Key("balances", account), balanceStrings(balances))
			}
		},
	})
	if cfg.Viewer != "" && len(cfg.RPC.Currencies) > 0 {
		if err := poller.Watch(cfg.Viewer, cfg.RPC.Currencies...); err != nil {
			return nil, fmt.Errorf("watch viewer balances: %w", err)
		}
	}

	return &App{
		Config:      cfg,
		Activities:  ac,
		Poller:      poller,
		ChainName:   rpc.ChainName(ctx, cfg.RPC.URL, logger),
		RedisClient: redisClient,
		Logger:      logger,
	}, nil
}

func balanceStrings(b rpc.Balances) map[string]string {
	out := make(map[string]string, len(b))
	for token, bal := range b {
		if bal == nil {
			bal = new(big.Int)
		}
		out[token] = bal.String()
	}
	return out
}

// SetupScheduler schedules the periodic full resync.
func (a *App) SetupScheduler(ctx context.Context) error {
	logger := cron.PrintfLogger(zap.NewStdLog(a.Logger))
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	interval := a.Config.Indexer.ResyncInterval.Std()
	_, err := a.Cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := a.Activities.SyncAll(rctx); err != nil {
			a.Logger.Warn("Resync finished with errors", zap.Error(err))
		}
	})
	return err
}

// Start runs one sync pass, then keeps the data live until ctx is canceled.
func (a *App) Start(ctx context.Context) {
	a.Logger.Info("Starting arcade",
		zap.String("chain", a.ChainName),
		zap.String("registry", a.Config.Indexer.Registry),
		zap.String("viewer", a.Config.Viewer))

	if err := a.Activities.SyncAll(ctx); err != nil {
		a.Logger.Warn("Initial sync finished with errors", zap.Error(err))
	}
	a.Logger.Info("Initial sync done",
		zap.Strings("projects", a.Activities.GameProjects()),
		zap.String("status", string(a.Activities.Status(
			activity.SurfaceCatalog,
			activity.SurfaceAchievements,
			activity.SurfaceSocial,
			activity.SurfaceMarketplace,
			activity.SurfacePlaythroughs,
		))))

	if a.Config.Viewer != "" {
		if err := a.Activities.SyncBalances(ctx, a.Config.Viewer); err != nil {
			a.Logger.Warn("Balance sync aborted", zap.Error(err))
		}
	}

	if err := a.Poller.Start(ctx); err != nil {
		a.Logger.Error("Unable to start balance poller", zap.Error(err))
	}
	if err := a.SetupScheduler(ctx); err != nil {
		a.Logger.Error("Unable to schedule resync", zap.Error(err))
	} else {
		a.Cron.Start()
	}

	a.Activities.ListenAll(ctx)
	a.Stop()
}

// Stop stops polling, pending fetches and background index builds.
func (a *App) Stop() {
	a.Poller.Stop()
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.Activities.Sessions.AbortAll()
	a.Activities.Coordinator.Close()
	a.Activities.Metadata.Close()
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
