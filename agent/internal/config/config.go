package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSyncInterval = 30 * time.Second
	DefaultBufferSize   = 1000
	DefaultAPIKeyHeader = "x-api-key"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of deltacache-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// SyncInterval controls how often each seed file is re-read.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// BufferSize is the maximum number of pending writes held in memory
	// when the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Sources is the list of seed files to keep in the cache.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to deltacache-server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Source describes one seed file: a JSON object whose members become cache
// entries.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Path is the JSON file to read.
	Path string `yaml:"path"`

	// Prefix is prepended to every key read from the file.
	Prefix string `yaml:"prefix"`

	// Prune deletes keys from the cache when they disappear from the file.
	Prune bool `yaml:"prune"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the gRPC metadata key to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header, or DefaultAPIKeyHeader when unset.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAPIKeyHeader
	}
	return a.Header
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
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
		Agent: AgentConfig{
			SyncInterval: DefaultSyncInterval,
			BufferSize:   DefaultBufferSize,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if cfg.Agent.SyncInterval <= 0 {
		return fmt.Errorf("agent.sync_interval must be positive")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	seen := make(map[string]bool, len(cfg.Agent.Sources))
	for i, src := range cfg.Agent.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Path == "" {
			return fmt.Errorf("sources[%d] %q: path is required", i, src.ID)
		}
	}
	switch a := cfg.Agent.ServerAuth; a.Mode {
	case "mtls":
		if a.CertFile == "" || a.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: mtls requires cert_file and key_file")
		}
	case "apikey":
		if a.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth: apikey requires key_env")
		}
	case "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.Mode)
	}
	return nil
}
