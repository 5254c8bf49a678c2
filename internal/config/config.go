// ABOUTME: Configuration loading and parsing for preview-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete preview-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Preview   PreviewConfig   `yaml:"preview"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds event-log database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// PreviewConfig holds the room-preview pipeline configuration.
// TrackedEventTypes is the set of state-event types surfaced in previews;
// when empty the pipeline is a no-op and every request returns {}.
type PreviewConfig struct {
	TrackedEventTypes []string `yaml:"tracked_event_types"`
}

// RateLimitConfig holds per-user request admission configuration
type RateLimitConfig struct {
	BurstWindow      time.Duration `yaml:"-"`
	RequestsPerBurst int           `yaml:"requests_per_burst"`

	// Raw string value for YAML unmarshaling
	BurstWindowRaw string `yaml:"burst_window"`
}

// MatrixConfig holds the homeserver sync feed configuration.
// The sync feed drives reactive cache invalidation; when disabled the
// cache relies on TTL expiry alone.
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default tracked event types, matching the pangea activity convention.
var defaultTrackedEventTypes = []string{
	"pangea.activity_plan",
	"pangea.activity_roles",
}

const (
	defaultBurstWindow      = 60 * time.Second
	defaultRequestsPerBurst = 10
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional sections.
func (c *Config) applyDefaults() {
	if c.Preview.TrackedEventTypes == nil {
		c.Preview.TrackedEventTypes = defaultTrackedEventTypes
	}
	if c.RateLimit.BurstWindow == 0 {
		c.RateLimit.BurstWindow = defaultBurstWindow
	}
	if c.RateLimit.RequestsPerBurst == 0 {
		c.RateLimit.RequestsPerBurst = defaultRequestsPerBurst
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.RateLimit.BurstWindow < 0 {
		return fmt.Errorf("ratelimit.burst_window must not be negative")
	}
	if c.RateLimit.RequestsPerBurst < 0 {
		return fmt.Errorf("ratelimit.requests_per_burst must not be negative")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix sync is enabled")
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix sync is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix sync is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.RateLimit.BurstWindowRaw != "" {
		cfg.RateLimit.BurstWindow, err = time.ParseDuration(cfg.RateLimit.BurstWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing burst_window %q: %w", cfg.RateLimit.BurstWindowRaw, err)
		}
	}

	return nil
}
