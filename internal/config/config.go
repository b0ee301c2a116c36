// Package config holds the settings of the direct-chat session core.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains configuration for chat sessions.
type Config struct {
	// Connection settings
	BaseURL        string        `yaml:"base_url"`
	EndpointPath   string        `yaml:"endpoint_path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// Liveness
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing"`
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming"`
	HeartbeatGrace    int           `yaml:"heartbeat_grace"`

	// Recovery
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Ephemeral state
	TypingTTL time.Duration `yaml:"typing_ttl"`

	Log LogConfig `yaml:"log"`

	// MetricsAddr, when set, is where binaries expose prometheus metrics.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		BaseURL:           "http://localhost:8080/api",
		EndpointPath:      "/ws",
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatOutgoing: 4 * time.Second,
		HeartbeatIncoming: 4 * time.Second,
		HeartbeatGrace:    2,
		ReconnectDelay:    5 * time.Second,
		TypingTTL:         3 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvBaseURL        = "DIRECT_CHAT_BASE_URL"
	EnvReconnectDelay = "DIRECT_CHAT_RECONNECT_DELAY"
	EnvLogLevel       = "DIRECT_CHAT_LOG_LEVEL"
	EnvLogFormat      = "DIRECT_CHAT_LOG_FORMAT"
	EnvMetricsAddr    = "DIRECT_CHAT_METRICS_ADDR"
)

// ApplyEnv overrides fields from DIRECT_CHAT_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvBaseURL); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv(EnvReconnectDelay); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvReconnectDelay, err)
		}
		c.ReconnectDelay = d
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogFormat); ok {
		c.Log.Format = v
	}
	if v, ok := os.LookupEnv(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := c.Endpoint(); err != nil {
		return err
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect_delay must be positive")
	}
	if c.TypingTTL <= 0 {
		return errors.New("typing_ttl must be positive")
	}
	if c.HeartbeatOutgoing < 0 || c.HeartbeatIncoming < 0 {
		return errors.New("heartbeat intervals must not be negative")
	}
	if c.HeartbeatIncoming > 0 && c.HeartbeatGrace < 1 {
		return errors.New("heartbeat_grace must be at least 1")
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be 'console' or 'json', got %q", c.Log.Format)
	}
	return nil
}

// Endpoint derives the broker WebSocket URL from BaseURL: a trailing /api
// is dropped, EndpointPath is appended and http(s) becomes ws(s).
func (c *Config) Endpoint() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid base_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("invalid base_url: missing host")
	}

	p := strings.TrimSuffix(u.Path, "/")
	p = strings.TrimSuffix(p, "/api")
	path := c.EndpointPath
	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = p + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Option is a functional option for Config.
type Option func(*Config)

// Apply applies opts in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithBaseURL sets the API base URL the broker endpoint is derived from.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) { c.BaseURL = baseURL }
}

// WithReconnectDelay sets the fixed wait between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.ReconnectDelay = d }
}

// WithHeartbeat sets the heart-beat intervals offered on CONNECT. Zero disables a direction.
func WithHeartbeat(outgoing, incoming time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatOutgoing = outgoing
		c.HeartbeatIncoming = incoming
	}
}

// WithTypingTTL sets how long a remote typing indicator lives without a refresh.
func WithTypingTTL(d time.Duration) Option {
	return func(c *Config) { c.TypingTTL = d }
}

// WithLog sets the log level and output format.
func WithLog(level, format string) Option {
	return func(c *Config) {
		c.Log.Level = level
		c.Log.Format = format
	}
}
