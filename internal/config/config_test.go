package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/engine"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:7070/ws", cfg.Backend.URL)
	assert.Equal(t, "127.0.0.1:5555", cfg.Frontend.Address)
	assert.True(t, cfg.Frontend.AutoConnect)
	assert.Equal(t, "127.0.0.1:9001", cfg.Headset.Address)
	assert.Equal(t, time.Duration(0), cfg.Session.SelectionTimeout)
	assert.Equal(t, engine.DefaultConfig(), cfg.EngineConfig())
	assert.Equal(t, ConsoleLine, cfg.Console.Mode)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	fs := newFlags(t,
		"--backend-url", "ws://backend:1/ws",
		"--selection-timeout", "30s",
		"--console", "tui",
	)
	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "ws://backend:1/ws", cfg.Backend.URL)
	assert.Equal(t, 30*time.Second, cfg.Session.SelectionTimeout)
	assert.Equal(t, ConsoleTUI, cfg.Console.Mode)
	// untouched flags keep the defaults
	assert.Equal(t, "127.0.0.1:5555", cfg.Frontend.Address)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("BALANCE_HEADSET_ADDRESS", "10.0.0.7:9001")
	t.Setenv("BALANCE_ENGINE_RETRY_DELAY", "2s")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7:9001", cfg.Headset.Address)
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryDelay)
}

func TestLoadFlagBeatsEnvironment(t *testing.T) {
	t.Setenv("BALANCE_HEADSET_ADDRESS", "10.0.0.7:9001")

	cfg, err := Load(newFlags(t, "--headset-address", "10.0.0.8:9001"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.8:9001", cfg.Headset.Address)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
frontend:
  address: 192.168.1.20:5555
  autoconnect: false
engine:
  pause_delay: 20s
log:
  file: /tmp/balance.log
`), 0o600))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:5555", cfg.Frontend.Address)
	assert.False(t, cfg.Frontend.AutoConnect)
	assert.Equal(t, 20*time.Second, cfg.Engine.PauseDelay)
	assert.Equal(t, engine.DefaultRetryDelay, cfg.Engine.RetryDelay)
	assert.Equal(t, "/tmp/balance.log", cfg.Log.File)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(newFlags(t, "--console", "gui"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "console.mode")
}

func TestValidate(t *testing.T) {
	base, err := Load(nil)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero balance loss", func(c *Config) { c.Engine.BalanceLossAfter = 0 }, "engine.balance_loss_after"},
		{"negative retry", func(c *Config) { c.Engine.RetryDelay = -time.Second }, "engine.retry_delay"},
		{"negative selection timeout", func(c *Config) { c.Session.SelectionTimeout = -1 }, "session.selection_timeout"},
		{"no backend", func(c *Config) { c.Backend.URL = "" }, "backend.url"},
		{"no headset", func(c *Config) { c.Headset.Address = "" }, "headset.address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	assert.NoError(t, base.Validate())
}

func TestSessionConfig(t *testing.T) {
	cfg, err := Load(newFlags(t, "--frontend-address", "host:1", "--selection-timeout", "1m"))
	require.NoError(t, err)

	sc := cfg.SessionConfig()
	assert.Equal(t, "host:1", sc.FrontendAddress)
	assert.Equal(t, cfg.Backend.URL, sc.BackendURL)
	assert.Equal(t, cfg.Link.DialTimeout, sc.DialTimeout)
	assert.Equal(t, time.Minute, sc.SelectionTimeout)
}
