// ABOUTME: Configuration loading and parsing for slotchat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete slotchat configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	LLM         LLMConfig         `yaml:"llm" toml:"llm"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	WebUI       WebUIConfig       `yaml:"webui" toml:"webui"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional gRPC health listener
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig selects and configures the conversation store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite (default), mongo, postgres
	Path   string `yaml:"path" toml:"path"`     // sqlite
	URL    string `yaml:"url" toml:"url"`       // mongo, postgres
	Name   string `yaml:"name" toml:"name"`     // mongo database name
}

// AuthConfig holds authentication configuration.
// Auth is enabled when either JWTSecret or PublicKeyFile is set.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" toml:"jwt_secret"`
	PublicKeyFile string `yaml:"public_key_file" toml:"public_key_file"`
	Issuer        string `yaml:"issuer" toml:"issuer"`
	Audience      string `yaml:"audience" toml:"audience"`
}

// Enabled reports whether requests must carry a bearer token
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.PublicKeyFile != ""
}

// LLMConfig holds the language-model proxy configuration
type LLMConfig struct {
	BaseURL      string        `yaml:"base_url" toml:"base_url"`
	APIKey       string        `yaml:"api_key" toml:"api_key"`
	Model        string        `yaml:"model" toml:"model"`
	SystemPrompt string        `yaml:"system_prompt" toml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens" toml:"max_tokens"`
	Temperature  float32       `yaml:"temperature" toml:"temperature"`
	Timeout      time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// IdempotencyConfig holds Idempotency-Key replay configuration
type IdempotencyConfig struct {
	Backend     string        `yaml:"backend" toml:"backend"` // memory (default) or redis
	TTL         time.Duration `yaml:"-" toml:"-"`
	MaxEntries  int           `yaml:"max_entries" toml:"max_entries"`
	RedisAddr   string        `yaml:"redis_addr" toml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix" toml:"redis_prefix"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// WebUIConfig holds the browser chat page configuration
type WebUIConfig struct {
	Enabled *bool  `yaml:"enabled" toml:"enabled"` // default true
	Title   string `yaml:"title" toml:"title"`
}

// IsEnabled reports whether the chat page is served
func (w WebUIConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Defaults applied by Load when a field is left empty
const (
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultLLMBaseURL      = "https://api.groq.com/openai/v1"
	DefaultLLMModel        = "llama-3.1-8b-instant"
	DefaultLLMTimeout      = 60 * time.Second
	DefaultIdempotencyTTL  = 24 * time.Hour
	DefaultIdempotencySize = 10_000
	DefaultWebUITitle      = "slotchat"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration content, applies defaults and validates it
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "mongo" && c.Database.Name == "" {
		c.Database.Name = "slotchat"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = "memory"
	}
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = DefaultIdempotencyTTL
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = DefaultIdempotencySize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.WebUI.Title == "" {
		c.WebUI.Title = DefaultWebUITitle
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "mongo", "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be sqlite, mongo or postgres, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && c.Auth.PublicKeyFile != "" {
		return fmt.Errorf("auth.jwt_secret and auth.public_key_file are mutually exclusive")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must not be negative")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}

	if c.Idempotency.TTL < 0 {
		return fmt.Errorf("idempotency.ttl must not be negative")
	}
	if c.Idempotency.MaxEntries < 0 {
		return fmt.Errorf("idempotency.max_entries must not be negative")
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("idempotency.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("idempotency.backend must be memory or redis, got %q", c.Idempotency.Backend)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.LLM.TimeoutRaw != "" {
		cfg.LLM.Timeout, err = time.ParseDuration(cfg.LLM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing llm.timeout %q: %w", cfg.LLM.TimeoutRaw, err)
		}
	}

	if cfg.Idempotency.TTLRaw != "" {
		cfg.Idempotency.TTL, err = time.ParseDuration(cfg.Idempotency.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency.ttl %q: %w", cfg.Idempotency.TTLRaw, err)
		}
	}

	return nil
}
