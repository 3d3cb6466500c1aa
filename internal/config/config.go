package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ProfitPulse dashboard
// backend.
type Config struct {
	Server  Server  `yaml:"server"`
	Gateway Gateway `yaml:"gateway"`
	Link    Link    `yaml:"link"`
	Storage Storage `yaml:"storage"`
	NATS    NATS    `yaml:"nats"`
	Logging Logging `yaml:"logging"`
}

// Server holds the network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Gateway points at the remote account/auth gateway this service calls.
type Gateway struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Link configures the credential-link coordinator.
type Link struct {
	// TrustedOrigins is the explicit allow-list for child-window
	// completion messages. The default config carries the two local
	// development origins.
	TrustedOrigins []string `yaml:"trusted_origins"`
	// HandshakeTimeoutSeconds bounds the wait for a completion message;
	// 0 waits forever.
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	// CallbackRatePerMinute / CallbackBurst throttle the
	// unauthenticated callback endpoint.
	CallbackRatePerMinute int `yaml:"callback_rate_per_minute"`
	CallbackBurst         int `yaml:"callback_burst"`
}

// Storage holds paths for local persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// NATS configures the optional link-event publisher.
type NATS struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration, matching the local
// development setup the dashboard frontend expects.
func Default() *Config {
	return &Config{
		Server: Server{Host: "0.0.0.0", Port: 8080},
		Gateway: Gateway{
			BaseURL:        "http://localhost:4000/api/v1",
			TimeoutSeconds: 30,
		},
		Link: Link{
			TrustedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:4000",
			},
			CallbackRatePerMinute: 60,
			CallbackBurst:         10,
		},
		Storage: Storage{SQLitePath: "profitpulse.db"},
		NATS: NATS{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "profitpulse",
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the YAML configuration file at the given path on top of the
// defaults, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config from YAML: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and
// overrides the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PP_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("PP_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("PP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate performs basic configuration validation.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url cannot be empty")
	}
	if u, err := url.Parse(c.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway base_url %q is not an absolute URL", c.Gateway.BaseURL)
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("gateway timeout_seconds must be positive")
	}

	if len(c.Link.TrustedOrigins) == 0 {
		return fmt.Errorf("link trusted_origins cannot be empty")
	}
	for _, origin := range c.Link.TrustedOrigins {
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("trusted origin %q is not an absolute origin", origin)
		}
	}
	if c.Link.HandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("link handshake_timeout_seconds cannot be negative")
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path cannot be empty")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats url cannot be empty when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats subject_prefix cannot be empty when nats is enabled")
		}
	}

	return nil
}
