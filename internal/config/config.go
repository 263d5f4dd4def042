// Package config loads gateway settings from defaults, an optional
// mcpgate.yaml, a .env file and MCPGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// MCPGATE_SERVER_PORT for server.port.
const EnvPrefix = "MCPGATE"

// Config is the effective gateway configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Market    MarketConfig    `mapstructure:"market"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig selects the key store backend.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	DataDir      string `mapstructure:"data_dir"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// MarketConfig points the gateway at the marketplace services.
type MarketConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// AuthConfig tunes signed auth event checks.
type AuthConfig struct {
	RequireSignedEvent bool          `mapstructure:"require_signed_event"`
	EventWindow        time.Duration `mapstructure:"event_window"`
	ReplayProtection   bool          `mapstructure:"replay_protection"`
}

// RateLimitConfig holds the onboarding limiter and the coarse HTTP limits.
type RateLimitConfig struct {
	OnboardPerHour int    `mapstructure:"onboard_per_hour"`
	APIPerMinute   int    `mapstructure:"api_per_minute"`
	MCPPerMinute   int    `mapstructure:"mcp_per_minute"`
	Backend        string `mapstructure:"backend"`
	RedisURL       string `mapstructure:"redis_url"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls log output and optional file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			MaxOpenConns: 10,
		},
		Market: MarketConfig{
			BaseURL:           "http://localhost:3000",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Auth: AuthConfig{
			RequireSignedEvent: false,
			EventWindow:        120 * time.Second,
			ReplayProtection:   false,
		},
		RateLimit: RateLimitConfig{
			OnboardPerHour: 10,
			APIPerMinute:   120,
			MCPPerMinute:   600,
			Backend:        "memory",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Setup prepares v: defaults for every key, MCPGATE_* environment overrides
// and the config file. An explicit cfgFile must exist; otherwise mcpgate.yaml
// is searched in the working directory and $HOME/.mcpgate and may be absent.
func Setup(v *viper.Viper, cfgFile string) error {
	for key, value := range Default().Settings() {
		setDefaults(v, key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("mcpgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mcpgate")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// setDefaults registers nested settings under dotted keys so AutomaticEnv can
// resolve every leaf.
func setDefaults(v *viper.Viper, prefix string, value interface{}) {
	if m, ok := value.(map[string]interface{}); ok {
		for k, sub := range m {
			setDefaults(v, prefix+"."+k, sub)
		}
		return
	}
	v.SetDefault(prefix, value)
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3":
	case "pgx", "postgres", "postgresql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q (want sqlite or pgx)", c.Database.Driver)
	}
	return nil
}

// ResolvedDataDir returns the SQLite data directory, defaulting to ~/.mcpgate.
func (d DatabaseConfig) ResolvedDataDir() string {
	if d.DataDir != "" {
		return d.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcpgate"
	}
	return filepath.Join(home, ".mcpgate")
}

// ListenAddr is host:port for the HTTP server.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL is the public URL clients use, falling back to the listen address.
func (s ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}
