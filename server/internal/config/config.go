package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8080
	DefaultCacheName        = "default"
	DefaultEvictionInterval = 10 * time.Minute
	DefaultUpstreamTimeout  = 10 * time.Second
	DefaultMissTTL          = 30 * time.Second
)

// Config holds the full server configuration parsed from config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC receiver listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// CacheConfig controls the cache instance. Every field except Name can be
// changed by a config reload.
type CacheConfig struct {
	// Name identifies the cache in logs, metrics and change notifications.
	Name string `yaml:"name"`

	// EvictionInterval is how often eviction rules are evaluated against every
	// entry. Zero disables scheduled eviction; POST /api/v1/purge still works.
	EvictionInterval time.Duration `yaml:"eviction_interval"`

	// NotificationInterval is how often accumulated changes are published.
	// Zero disables scheduled notification.
	NotificationInterval time.Duration `yaml:"notification_interval"`

	// EvictionRules select entries to purge. An entry is evicted when any rule matches.
	EvictionRules []EvictionRule `yaml:"eviction_rules"`
}

// EvictionRule is one named eviction condition.
type EvictionRule struct {
	// Name identifies the rule in logs.
	Name string `yaml:"name"`

	// Condition is a simple expression: "age > 30m", "size >= 1048576",
	// "source == grpc", "key_prefix == tmp:".
	Condition string `yaml:"condition"`
}

// UpstreamConfig configures the optional read-through origin. Leaving URL
// empty disables read-through loading.
type UpstreamConfig struct {
	// URL is the base URL; the escaped key is appended as the last path segment.
	URL string `yaml:"url"`

	// Timeout bounds one upstream request (default 10s). The request runs
	// while the cache holds its write lock, so every other read and write
	// waits for it; keep it short.
	Timeout time.Duration `yaml:"timeout"`

	// MissTTL is how long a "not found" answer is remembered (default 30s).
	// Zero disables negative caching.
	MissTTL time.Duration `yaml:"miss_ttl"`

	Auth UpstreamAuth `yaml:"auth"`
	TLS  TLSConfig    `yaml:"tls"`
}

// Enabled reports whether read-through loading is configured.
func (u UpstreamConfig) Enabled() bool { return u.URL != "" }

// UpstreamAuth holds credentials for requests to the origin.
type UpstreamAuth struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in (Mode == "apikey").
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token (Mode == "bearer").
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a UpstreamAuth) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a UpstreamAuth) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a UpstreamAuth) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// NotifyConfig holds change-notification delivery targets.
type NotifyConfig struct {
	// RatePerSecond caps webhook deliveries per second across all targets.
	// Zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the token bucket size (default 1 when RatePerSecond > 0).
	Burst int `yaml:"burst"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
		},
		Cache: CacheConfig{
			Name:             DefaultCacheName,
			EvictionInterval: DefaultEvictionInterval,
		},
		Upstream: UpstreamConfig{
			Timeout: DefaultUpstreamTimeout,
			MissTTL: DefaultMissTTL,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
// Rule conditions are checked by the rules package at compile time.
func validate(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Cache.Name == "" {
		return fmt.Errorf("cache.name must not be empty")
	}
	if cfg.Cache.EvictionInterval < 0 {
		return fmt.Errorf("cache.eviction_interval must not be negative")
	}
	if cfg.Cache.NotificationInterval < 0 {
		return fmt.Errorf("cache.notification_interval must not be negative")
	}
	seen := make(map[string]bool, len(cfg.Cache.EvictionRules))
	for i, r := range cfg.Cache.EvictionRules {
		if r.Name == "" {
			return fmt.Errorf("cache.eviction_rules[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("cache.eviction_rules[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.Condition == "" {
			return fmt.Errorf("cache.eviction_rules[%d] %q: condition is required", i, r.Name)
		}
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.Upstream.MissTTL < 0 {
		return fmt.Errorf("upstream.miss_ttl must not be negative")
	}
	switch cfg.Upstream.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("upstream.auth.mode %q unknown: want mtls|apikey|bearer|basic|none", cfg.Upstream.Auth.Mode)
	}
	if cfg.Upstream.Auth.Mode == "apikey" && cfg.Upstream.Auth.Header == "" {
		return fmt.Errorf("upstream.auth.header is required when mode is apikey")
	}
	if cfg.Notify.RatePerSecond < 0 {
		return fmt.Errorf("notify.rate_per_second must not be negative")
	}
	if cfg.Notify.Burst < 0 {
		return fmt.Errorf("notify.burst must not be negative")
	}
	for i, w := range cfg.Notify.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d].type %q unknown: want teams|slack|http", i, w.Type)
		}
	}
	return nil
}
