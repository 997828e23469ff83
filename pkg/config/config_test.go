package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RPC.PollInterval.Std())
	assert.Equal(t, 16, cfg.Indexer.MaxConcurrency)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Std())
	assert.Equal(t, time.Hour, cfg.Playthrough.SessionGap.Std())
	assert.Equal(t, 30, cfg.Playthrough.LookbackDays)
	assert.Equal(t, 24*time.Hour, cfg.Identity.TTL.Std())
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.NoError(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arcade.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
viewer = "0xabc"

[indexer]
url = "http://localhost:8080"
projects = ["dopewars", "loot-survivor"]
max_concurrency = 4

[rpc]
poll_interval = "10s"

[playthrough]
session_gap = "30m"
`), 0o600))

	t.Setenv("ARCADE_MAX_CONCURRENCY", "8")
	t.Setenv("ARCADE_PROJECTS", "ponziland, ,eternum")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", cfg.Viewer)
	assert.Equal(t, "http://localhost:8080", cfg.Indexer.URL)
	assert.Equal(t, 8, cfg.Indexer.MaxConcurrency)
	assert.Equal(t, []string{"ponziland", "eternum"}, cfg.Indexer.Projects)
	assert.Equal(t, 10*time.Second, cfg.RPC.PollInterval.Std())
	assert.Equal(t, 30*time.Minute, cfg.Playthrough.SessionGap.Std())
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", `[indexer`},
		{"bad duration", "[rpc]\npoll_interval = \"soon\""},
		{"no projects", "[indexer]\nregistry = \"\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "arcade.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
