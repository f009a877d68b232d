package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Verbose    bool   `mapstructure:"verbose"`
	DockerHost string `mapstructure:"docker_host"`
	// Wait is in seconds.
	Wait     float64 `mapstructure:"wait"`
	Teardown bool    `mapstructure:"teardown"`
	File     string  `mapstructure:"file"`

	Log       LogConfig       `mapstructure:"log"`
	Compose   ComposeConfig   `mapstructure:"compose"`
	Detectors DetectorsConfig `mapstructure:"detectors"`
	History   HistoryConfig   `mapstructure:"history"`
}

// WaitDuration returns Wait as a duration.
func (c Config) WaitDuration() time.Duration {
	return time.Duration(c.Wait * float64(time.Second))
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ComposeConfig holds compose configuration.
type ComposeConfig struct {
	// Lookup selects how containers and published ports are looked up:
	// "cli" runs docker compose, "api" asks the Docker Engine API.
	Lookup string `mapstructure:"lookup"`

	// Command is the compose program and its leading arguments.
	Command []string `mapstructure:"command"`

	// Concurrency bounds concurrent host port lookups.
	Concurrency int `mapstructure:"concurrency"`
}

// RetryConfig holds the retry timing of one detector.
type RetryConfig struct {
	Delay time.Duration `mapstructure:"delay"`
	Time  time.Duration `mapstructure:"time"`
}

// DetectorsConfig holds the retry timing of the built-in detectors.
type DetectorsConfig struct {
	TCP      RetryConfig `mapstructure:"tcp"`
	Redis    RetryConfig `mapstructure:"redis"`
	Postgres RetryConfig `mapstructure:"postgres"`
}

// HistoryConfig holds run history configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// =============================================================================
// Config Loading
// =============================================================================

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"verbose":     "verbose",
	"docker-host": "docker_host",
	"wait":        "wait",
	"teardown":    "teardown",
	"file":        "file",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"lookup":      "compose.lookup",
	"history":     "history.enabled",
}

// LoadConfig loads configuration from defaults, an optional file, COMPD_*
// environment variables and the flags that were set on the command line.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("verbose", false)
	v.SetDefault("docker_host", "")
	v.SetDefault("wait", 0)
	v.SetDefault("teardown", !envToBool("COMPD_NO_TEARDOWN", false))
	v.SetDefault("file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("compose.lookup", "cli")
	v.SetDefault("compose.command", []string{"docker", "compose"})
	v.SetDefault("compose.concurrency", 8)
	v.SetDefault("detectors.tcp.delay", "100ms")
	v.SetDefault("detectors.tcp.time", "5s")
	v.SetDefault("detectors.redis.delay", "100ms")
	v.SetDefault("detectors.redis.time", "5s")
	v.SetDefault("detectors.postgres.delay", "200ms")
	v.SetDefault("detectors.postgres.time", "5s")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", defaultHistoryDSN())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one does not.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("COMPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch cfg.Compose.Lookup {
	case "cli", "api":
	default:
		return nil, fmt.Errorf("invalid compose.lookup %q: must be cli or api", cfg.Compose.Lookup)
	}

	return &cfg, nil
}

// envToBool reads a flag-like environment variable: unset or empty is def,
// "0" is false and anything else is true.
func envToBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v != "0"
}

func defaultHistoryDSN() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "compd", "history.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "compd", "history.db")
	}
	return filepath.Join(".compd", "history.db")
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w, never to the standard output of the wrapped command. Verbose forces
// the debug level.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
