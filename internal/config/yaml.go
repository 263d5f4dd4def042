package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# mcpgate configuration
# Every key can be overridden with an MCPGATE_* environment variable,
# e.g. MCPGATE_SERVER_PORT=9090 or MCPGATE_DATABASE_DSN=postgres://...
`

// Settings returns the configuration as nested maps keyed by the same names
// the config file uses. Durations are rendered as strings such as "30s".
func (c *Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"host":             c.Server.Host,
			"port":             c.Server.Port,
			"public_url":       c.Server.PublicURL,
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
			"cors_origins":     c.Server.CORSOrigins,
			"max_body_bytes":   c.Server.MaxBodyBytes,
		},
		"database": map[string]interface{}{
			"driver":         c.Database.Driver,
			"dsn":            c.Database.DSN,
			"data_dir":       c.Database.DataDir,
			"max_open_conns": c.Database.MaxOpenConns,
		},
		"market": map[string]interface{}{
			"base_url":            c.Market.BaseURL,
			"timeout":             c.Market.Timeout.String(),
			"requests_per_second": c.Market.RequestsPerSecond,
			"burst":               c.Market.Burst,
		},
		"auth": map[string]interface{}{
			"require_signed_event": c.Auth.RequireSignedEvent,
			"event_window":         c.Auth.EventWindow.String(),
			"replay_protection":    c.Auth.ReplayProtection,
		},
		"rate_limit": map[string]interface{}{
			"onboard_per_hour": c.RateLimit.OnboardPerHour,
			"api_per_minute":   c.RateLimit.APIPerMinute,
			"mcp_per_minute":   c.RateLimit.MCPPerMinute,
			"backend":          c.RateLimit.Backend,
			"redis_url":        c.RateLimit.RedisURL,
		},
		"metrics": map[string]interface{}{
			"enabled": c.Metrics.Enabled,
			"path":    c.Metrics.Path,
		},
		"log": map[string]interface{}{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
}

// Redacted returns a copy with credentials stripped from connection strings.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Database.DSN = redactURL(c.Database.DSN)
	out.RateLimit.RedisURL = redactURL(c.RateLimit.RedisURL)
	return &out
}

// redactURL masks the password of a URL-style connection string. Values that
// do not parse as URLs with user info are returned unchanged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

// Render serializes cfg as a YAML config file.
func Render(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Settings()); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := Render(Default())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
