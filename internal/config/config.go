// Package config provides configuration types for mcp-warden.
//
// Configuration is file-based (YAML) with environment variable overrides.
// The schema is intentionally small: one listener, one SQLite database,
// and a list of seed services.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Config is the top-level configuration for mcp-warden.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Admin configures the admin API surface.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Database configures the SQLite catalog.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Polling configures the snapshot check scheduler and route refresh.
	Polling PollingConfig `yaml:"polling" mapstructure:"polling"`

	// Upstream configures outbound calls to upstream MCP servers.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Telemetry configures tracing output.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// BaseURL is the externally visible base URL of this proxy. It is only
	// used to render client configuration snippets.
	// Defaults to "http://<listen addr>".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// Services seeds the catalog at startup. Seeding is creation-only:
	// a service that already exists in the database is left untouched.
	Services []SeedServiceConfig `yaml:"services" mapstructure:"services" validate:"omitempty,dive"`
}

// ServerConfig configures the HTTP server.
// Only HTTP is supported (use a reverse proxy for TLS).
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// Password protects the admin API via HTTP basic auth. When empty, a
	// random password is generated at startup and logged once.
	Password string `yaml:"password" mapstructure:"password"`

	// DisableUI removes the admin API from the listener entirely. The
	// proxy still serves approved services; management requires restarting
	// with the UI enabled.
	DisableUI bool `yaml:"disable_ui" mapstructure:"disable_ui"`
}

// DatabaseConfig configures the SQLite catalog database.
type DatabaseConfig struct {
	// URL is the SQLite database file path.
	// Defaults to "mcp-warden.db" in the working directory.
	URL string `yaml:"url" mapstructure:"url"`
}

// PollingConfig configures the background loops.
type PollingConfig struct {
	// IntervalSeconds is how often the scheduler wakes to look for due
	// checks and the route table is refreshed from the database.
	// Defaults to 60.
	IntervalSeconds int `yaml:"interval_seconds" mapstructure:"interval_seconds" validate:"omitempty,min=1"`

	// MinCheckFrequency is the floor, in minutes, for per-service check
	// frequencies. Frequencies between 1 and this value are rejected;
	// 0 (never check) is always allowed. Defaults to 5.
	MinCheckFrequency int `yaml:"min_check_frequency" mapstructure:"min_check_frequency" validate:"omitempty,min=1"`
}

// UpstreamConfig configures outbound MCP calls made while snapshotting.
type UpstreamConfig struct {
	// TimeoutSeconds is the per-request timeout for capability listing
	// calls. Defaults to 30.
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds" validate:"omitempty,min=1"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Tracing enables stdout trace export for snapshot operations.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// SeedServiceConfig defines a service to create at startup if absent.
type SeedServiceConfig struct {
	// Name is the unique service name, used as the proxy path segment.
	Name string `yaml:"name" mapstructure:"name" validate:"required,service_name"`

	// UpstreamURL is the upstream MCP endpoint.
	UpstreamURL string `yaml:"upstream_url" mapstructure:"upstream_url" validate:"required,url"`

	// Enabled controls whether the seeded service starts enabled.
	// Defaults to true when omitted.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	// CheckFrequencyMinutes is how often to re-fingerprint the upstream.
	// An explicit 0 means never. Defaults to 60 when omitted.
	CheckFrequencyMinutes *int `yaml:"check_frequency_minutes" mapstructure:"check_frequency_minutes" validate:"omitempty,min=0"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Users who need network access must
	// explicitly set listen_addr: "0.0.0.0:8080".
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.URL == "" {
		c.Database.URL = "mcp-warden.db"
	}
	if c.Polling.IntervalSeconds == 0 {
		c.Polling.IntervalSeconds = 60
	}
	if c.Polling.MinCheckFrequency == 0 {
		c.Polling.MinCheckFrequency = 5
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://%s", c.Server.ListenAddr)
	}
	for i := range c.Services {
		if c.Services[i].CheckFrequencyMinutes == nil {
			freq := 60
			c.Services[i].CheckFrequencyMinutes = &freq
		}
		if c.Services[i].Enabled == nil {
			enabled := true
			c.Services[i].Enabled = &enabled
		}
	}
}

// GeneratePassword returns a random URL-safe password for the admin API,
// used when admin.password is not configured.
func GeneratePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate admin password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
