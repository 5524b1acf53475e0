package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the checkout gateway.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	NodeURL        string          `yaml:"node_url"`
	NodeAuthToken  string          `yaml:"node_token"`
	NodeTokenEnv   string          `yaml:"node_token_env"`
	DatabasePath   string          `yaml:"database"`
	RequestTimeout Duration        `yaml:"request_timeout"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig controls partner JWT verification.
type AuthConfig struct {
	Secret     string   `yaml:"secret"`
	SecretEnv  string   `yaml:"secret_env"`
	SecretFile string   `yaml:"secret_file"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ScopeClaim string   `yaml:"scope_claim"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request throughput.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.normalise(); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "checkout-gateway.db"
	}
	if cfg.RequestTimeout.Duration == 0 {
		cfg.RequestTimeout.Duration = 15 * time.Second
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 30
	}
}

func (c *Config) normalise() error {
	c.NodeURL = strings.TrimSpace(c.NodeURL)
	c.NodeAuthToken = strings.TrimSpace(c.NodeAuthToken)
	if env := strings.TrimSpace(c.NodeTokenEnv); c.NodeAuthToken == "" && env != "" {
		value := strings.TrimSpace(os.Getenv(env))
		if value == "" {
			return fmt.Errorf("node_token_env %s is empty", env)
		}
		c.NodeAuthToken = value
	}
	return c.Auth.normalise()
}

func (a *AuthConfig) normalise() error {
	a.Secret = strings.TrimSpace(a.Secret)
	a.SecretEnv = strings.TrimSpace(a.SecretEnv)
	a.SecretFile = strings.TrimSpace(a.SecretFile)
	if a.Secret != "" {
		return nil
	}
	switch {
	case a.SecretEnv != "":
		value := strings.TrimSpace(os.Getenv(a.SecretEnv))
		if value == "" {
			return fmt.Errorf("auth secret_env %s is empty", a.SecretEnv)
		}
		a.Secret = value
	case a.SecretFile != "":
		contents, err := os.ReadFile(a.SecretFile)
		if err != nil {
			return fmt.Errorf("read auth secret_file: %w", err)
		}
		a.Secret = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("auth secret is required")
	}
	if a.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.NodeURL == "" {
		return fmt.Errorf("node_url must be configured")
	}
	if strings.TrimSpace(cfg.NodeAuthToken) == "" {
		return fmt.Errorf("node_token must be configured")
	}
	if cfg.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}
