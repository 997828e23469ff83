// Package config loads the arcade configuration from an optional TOML file and the
// environment. Environment variables win over file values, which win over defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/canopy-network/arcadex/pkg/utils"
)

// Duration is a time.Duration written as "30s" or "24h" in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Indexer struct {
	URL      string `toml:"url"`
	Registry string `toml:"registry"`
	// Projects is used as-is when the registry lists no whitelisted edition.
	Projects       []string `toml:"projects"`
	MaxConcurrency int      `toml:"max_concurrency"`
	RPS            int      `toml:"rps"`
	ResyncInterval Duration `toml:"resync_interval"`
}

type RPC struct {
	URL          string   `toml:"url"`
	PollInterval Duration `toml:"poll_interval"`
	Currencies   []string `toml:"currencies"`
}

type Retry struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay Duration `toml:"base_delay"`
}

type Playthrough struct {
	SessionGap   Duration `toml:"session_gap"`
	LookbackDays int      `toml:"lookback_days"`
	Limit        int      `toml:"limit"`
}

type Identity struct {
	URL       string   `toml:"url"`
	TTL       Duration `toml:"ttl"`
	CacheSize int      `toml:"cache_size"`
	BatchSize int      `toml:"batch_size"`
}

type Redis struct {
	Enabled bool `toml:"enabled"`
}

// Config is the full arcade configuration.
type Config struct {
	Viewer      string      `toml:"viewer"`
	Indexer     Indexer     `toml:"indexer"`
	RPC         RPC         `toml:"rpc"`
	Retry       Retry       `toml:"retry"`
	Playthrough Playthrough `toml:"playthrough"`
	Identity    Identity    `toml:"identity"`
	Redis       Redis       `toml:"redis"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() Config {
	return Config{
		Indexer: Indexer{
			URL:            "https://api.cartridge.gg",
			Registry:       "arcade",
			MaxConcurrency: 16,
			RPS:            20,
			ResyncInterval: Duration(5 * time.Minute),
		},
		RPC: RPC{
			URL:          "https://api.cartridge.gg/x/starknet/mainnet",
			PollInterval: Duration(30 * time.Second),
		},
		Retry: Retry{
			Attempts:  3,
			BaseDelay: Duration(time.Second),
		},
		Playthrough: Playthrough{
			SessionGap:   Duration(time.Hour),
			LookbackDays: 30,
			Limit:        1000,
		},
		Identity: Identity{
			URL:       "https://api.cartridge.gg/accounts",
			TTL:       Duration(24 * time.Hour),
			CacheSize: 4096,
			BatchSize: 100,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides. An empty path or
// a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Viewer = utils.Env("ARCADE_VIEWER", c.Viewer)

	c.Indexer.URL = utils.Env("ARCADE_INDEXER_URL", c.Indexer.URL)
	c.Indexer.Registry = utils.Env("ARCADE_REGISTRY", c.Indexer.Registry)
	c.Indexer.Projects = envList("ARCADE_PROJECTS", c.Indexer.Projects)
	c.Indexer.MaxConcurrency = utils.EnvInt("ARCADE_MAX_CONCURRENCY", c.Indexer.MaxConcurrency)
	c.Indexer.RPS = utils.EnvInt("ARCADE_INDEXER_RPS", c.Indexer.RPS)
	c.Indexer.ResyncInterval = Duration(utils.EnvDuration("ARCADE_RESYNC_INTERVAL", c.Indexer.ResyncInterval.Std()))

	c.RPC.URL = utils.Env("ARCADE_RPC_URL", c.RPC.URL)
	c.RPC.PollInterval = Duration(utils.EnvDuration("ARCADE_POLL_INTERVAL", c.RPC.PollInterval.Std()))
	c.RPC.Currencies = envList("ARCADE_CURRENCIES", c.RPC.Currencies)

	c.Retry.Attempts = utils.EnvInt("ARCADE_RETRY_ATTEMPTS", c.Retry.Attempts)
	c.Retry.BaseDelay = Duration(utils.EnvDuration("ARCADE_RETRY_BASE_DELAY", c.Retry.BaseDelay.Std()))

	c.Playthrough.SessionGap = Duration(utils.EnvDuration("ARCADE_SESSION_GAP", c.Playthrough.SessionGap.Std()))
	c.Playthrough.LookbackDays = utils.EnvInt("ARCADE_LOOKBACK_DAYS", c.Playthrough.LookbackDays)
	c.Playthrough.Limit = utils.EnvInt("ARCADE_PLAYTHROUGH_LIMIT", c.Playthrough.Limit)

	c.Identity.URL = utils.Env("ARCADE_IDENTITY_URL", c.Identity.URL)
	c.Identity.TTL = Duration(utils.EnvDuration("ARCADE_IDENTITY_TTL", c.Identity.TTL.Std()))
	c.Identity.CacheSize = utils.EnvInt("ARCADE_IDENTITY_CACHE_SIZE", c.Identity.CacheSize)
	c.Identity.BatchSize = utils.EnvInt("ARCADE_IDENTITY_BATCH_SIZE", c.Identity.BatchSize)

	c.Redis.Enabled = utils.EnvBool("REDIS_ENABLED", c.Redis.Enabled)
}

// Validate reports settings the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Indexer.URL == "" {
		errs = append(errs, errors.New("indexer url is required"))
	}
	if c.Indexer.Registry == "" && len(c.Indexer.Projects) == 0 {
		errs = append(errs, errors.New("either an indexer registry or a project list is required"))
	}
	if c.Indexer.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("max concurrency must be positive, got %d", c.Indexer.MaxConcurrency))
	}
	if c.RPC.PollInterval.Std() <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Playthrough.SessionGap.Std() <= 0 {
		errs = append(errs, errors.New("session gap must be positive"))
	}
	if c.Playthrough.LookbackDays <= 0 {
		errs = append(errs, errors.New("lookback days must be positive"))
	}
	return errors.Join(errs...)
}

func envList(key string, def []string) []string {
	v := utils.Env(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
