package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/engine"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/session"
)

// EnvPrefix is prepended to every environment override, e.g. BALANCE_BACKEND_URL
const EnvPrefix = "BALANCE"

// Console modes
const (
	ConsoleLine = "line"
	ConsoleTUI  = "tui"
)

type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Frontend FrontendConfig `mapstructure:"frontend"`
	Headset  HeadsetConfig  `mapstructure:"headset"`
	Link     LinkConfig     `mapstructure:"link"`
	Session  SessionConfig  `mapstructure:"session"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Program  ProgramConfig  `mapstructure:"program"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Console  ConsoleConfig  `mapstructure:"console"`
}

type BackendConfig struct {
	URL string `mapstructure:"url"`
}

type FrontendConfig struct {
	Address     string `mapstructure:"address"`
	AutoConnect bool   `mapstructure:"autoconnect"`
}

type HeadsetConfig struct {
	Address string `mapstructure:"address"`
}

type LinkConfig struct {
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SessionConfig struct {
	// SelectionTimeout of 0 waits for the front end until cancelled
	SelectionTimeout time.Duration `mapstructure:"selection_timeout"`
	EnumerateTimeout time.Duration `mapstructure:"enumerate_timeout"`
}

type EngineConfig struct {
	BalanceLossAfter time.Duration `mapstructure:"balance_loss_after"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	PauseDelay       time.Duration `mapstructure:"pause_delay"`
}

type ProgramConfig struct {
	// File replaces the built-in program when set
	File string `mapstructure:"file"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	// Listen is the /metrics address; empty disables the listener
	Listen string `mapstructure:"listen"`
}

type ConsoleConfig struct {
	Mode string `mapstructure:"mode"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "ws://127.0.0.1:7070/ws")
	v.SetDefault("frontend.address", "127.0.0.1:5555")
	v.SetDefault("frontend.autoconnect", true)
	v.SetDefault("headset.address", "127.0.0.1:9001")
	v.SetDefault("link.dial_timeout", 5*time.Second)
	v.SetDefault("link.write_timeout", 5*time.Second)
	v.SetDefault("session.selection_timeout", time.Duration(0))
	v.SetDefault("session.enumerate_timeout", 10*time.Second)
	v.SetDefault("engine.balance_loss_after", engine.DefaultBalanceLossAfter)
	v.SetDefault("engine.retry_delay", engine.DefaultRetryDelay)
	v.SetDefault("engine.pause_delay", engine.DefaultPauseDelay)
	v.SetDefault("program.file", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("console.mode", ConsoleLine)
}

// flagKeys maps command-line flags onto config keys
var flagKeys = map[string]string{
	"backend-url":       "backend.url",
	"frontend-address":  "frontend.address",
	"headset-address":   "headset.address",
	"selection-timeout": "session.selection_timeout",
	"program":           "program.file",
	"log-file":          "log.file",
	"metrics-listen":    "metrics.listen",
	"console":           "console.mode",
}

// RegisterFlags adds the config flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file")
	fs.String("backend-url", "ws://127.0.0.1:7070/ws", "device backend websocket URL")
	fs.String("frontend-address", "127.0.0.1:5555", "port-selection front end address")
	fs.String("headset-address", "127.0.0.1:9001", "headset visualization address")
	fs.Duration("selection-timeout", 0, "how long connect waits for a port selection (0 = until cancelled)")
	fs.String("program", "", "exercise program YAML file (default: built-in program)")
	fs.String("log-file", "", "rotated log file")
	fs.String("metrics-listen", "", "address for /metrics and /healthz (empty disables)")
	fs.String("console", ConsoleLine, "operator console: line or tui")
}

// Load builds the configuration from defaults, the optional config file,
// BALANCE_* environment variables and flags, in increasing priority.
// fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if c.Frontend.Address == "" {
		errs = append(errs, errors.New("frontend.address is required"))
	}
	if c.Headset.Address == "" {
		errs = append(errs, errors.New("headset.address is required"))
	}
	for key, d := range map[string]time.Duration{
		"engine.balance_loss_after": c.Engine.BalanceLossAfter,
		"engine.retry_delay":        c.Engine.RetryDelay,
		"engine.pause_delay":        c.Engine.PauseDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", key, d))
		}
	}
	if c.Session.SelectionTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.selection_timeout must not be negative, got %v", c.Session.SelectionTimeout))
	}
	switch c.Console.Mode {
	case ConsoleLine, ConsoleTUI:
	default:
		errs = append(errs, fmt.Errorf("console.mode must be %q or %q, got %q", ConsoleLine, ConsoleTUI, c.Console.Mode))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineConfig converts the engine section to the engine's timing policy
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		BalanceLossAfter: c.Engine.BalanceLossAfter,
		RetryDelay:       c.Engine.RetryDelay,
		PauseDelay:       c.Engine.PauseDelay,
	}
}

// SessionConfig converts the link, peer and session sections for the controller
func (c Config) SessionConfig() session.Config {
	return session.Config{
		BackendURL:       c.Backend.URL,
		FrontendAddress:  c.Frontend.Address,
		HeadsetAddress:   c.Headset.Address,
		DialTimeout:      c.Link.DialTimeout,
		EnumerateTimeout: c.Session.EnumerateTimeout,
		SelectionTimeout: c.Session.SelectionTimeout,
	}
}
