// ABOUTME: Configuration loading and parsing for funnel-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete funnel-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the listen address for the dispatch endpoint
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// UpstreamsConfig holds the endpoint URLs for the four backing resource stores.
// Each store is independently addressable; the gateway never talks to their
// storage engines directly.
type UpstreamsConfig struct {
	UserURL       string `yaml:"user_url"`
	MembershipURL string `yaml:"membership_url"`
	GPTURL        string `yaml:"gpt_url"`
	PowerplayURL  string `yaml:"powerplay_url"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// AuthConfig holds authentication configuration. An empty secret disables
// bearer auth on the dispatch endpoint.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds the request audit log location. An empty path disables
// the audit log entirely.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig holds the per-email generation rate limit. Disabled by
// default; generation calls are the only billable upstream operation.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	upstreams := []struct {
		name string
		url  string
	}{
		{"upstreams.user_url", c.Upstreams.UserURL},
		{"upstreams.membership_url", c.Upstreams.MembershipURL},
		{"upstreams.gpt_url", c.Upstreams.GPTURL},
		{"upstreams.powerplay_url", c.Upstreams.PowerplayURL},
	}
	for _, u := range upstreams {
		if u.url == "" {
			return fmt.Errorf("%s is required", u.name)
		}
		parsed, err := url.Parse(u.url)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", u.name, u.url)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate_limit.rps must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive when rate limiting is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Upstreams.TimeoutRaw != "" {
		var err error
		cfg.Upstreams.Timeout, err = time.ParseDuration(cfg.Upstreams.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstreams.timeout %q: %w", cfg.Upstreams.TimeoutRaw, err)
		}
	}
	if cfg.Upstreams.Timeout == 0 {
		cfg.Upstreams.Timeout = 30 * time.Second
	}

	return nil
}
