// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "slotchat.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  driver: sqlite
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  issuer: "https://idp.example"

llm:
  api_key: "gsk-test"
  model: "llama-3.3-70b-versatile"
  system_prompt: "Be brief."
  max_tokens: 512
  temperature: 0.2
  timeout: "30s"

idempotency:
  backend: memory
  ttl: "1h"
  max_entries: 500

logging:
  level: "debug"
  format: "json"

webui:
  enabled: false
  title: "My Chat"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if !cfg.Auth.Enabled() {
		t.Error("Auth.Enabled() = false, want true")
	}
	if cfg.Auth.Issuer != "https://idp.example" {
		t.Errorf("Auth.Issuer = %q", cfg.Auth.Issuer)
	}
	if cfg.LLM.Model != "llama-3.3-70b-versatile" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 512 {
		t.Errorf("LLM.MaxTokens = %d, want 512", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM.Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("LLM.Timeout = %v, want 30s", cfg.LLM.Timeout)
	}
	if cfg.LLM.BaseURL != DefaultLLMBaseURL {
		t.Errorf("LLM.BaseURL = %q, want default", cfg.LLM.BaseURL)
	}
	if cfg.Idempotency.TTL != time.Hour {
		t.Errorf("Idempotency.TTL = %v, want 1h", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.MaxEntries != 500 {
		t.Errorf("Idempotency.MaxEntries = %d, want 500", cfg.Idempotency.MaxEntries)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.WebUI.IsEnabled() {
		t.Error("WebUI.IsEnabled() = true, want false")
	}
	if cfg.WebUI.Title != "My Chat" {
		t.Errorf("WebUI.Title = %q", cfg.WebUI.Title)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "slotchat.yaml", `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.LLM.Timeout != DefaultLLMTimeout {
		t.Errorf("LLM.Timeout = %v, want %v", cfg.LLM.Timeout, DefaultLLMTimeout)
	}
	if cfg.LLM.Model != DefaultLLMModel {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, DefaultLLMModel)
	}
	if cfg.Idempotency.Backend != "memory" {
		t.Errorf("Idempotency.Backend = %q, want memory", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.TTL != DefaultIdempotencyTTL {
		t.Errorf("Idempotency.TTL = %v", cfg.Idempotency.TTL)
	}
	if cfg.Auth.Enabled() {
		t.Error("Auth.Enabled() = true, want false")
	}
	if !cfg.WebUI.IsEnabled() {
		t.Error("WebUI.IsEnabled() = false, want true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "slotchat.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
driver = "postgres"
url = "postgres://localhost/slotchat"

[llm]
model = "gpt-4o-mini"
base_url = "https://api.openai.com/v1"
timeout = "15s"

[idempotency]
backend = "redis"
redis_addr = "localhost:6379"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://localhost/slotchat" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.LLM.Timeout != 15*time.Second {
		t.Errorf("LLM.Timeout = %v, want 15s", cfg.LLM.Timeout)
	}
	if cfg.Idempotency.RedisAddr != "localhost:6379" {
		t.Errorf("Idempotency.RedisAddr = %q", cfg.Idempotency.RedisAddr)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("SLOTCHAT_TEST_GROQ_KEY", "gsk-from-env")
	t.Setenv("SLOTCHAT_TEST_DB", "/tmp/from-env.db")

	configPath := writeConfig(t, "slotchat.yaml", `
database:
  path: "${SLOTCHAT_TEST_DB}"
llm:
  api_key: "${SLOTCHAT_TEST_GROQ_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "gsk-from-env" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "gsk-from-env")
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/slotchat.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "slotchat.yaml", "server:\n  http_addr: [unclosed")
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %v, want parsing error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "slotchat.yaml", `
database:
  path: "./test.db"
llm:
  timeout: "soon"
`)
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "llm.timeout") {
		t.Errorf("Load() error = %v, want llm.timeout error", err)
	}
}

func TestLoad_NegativeIdempotencyTTL(t *testing.T) {
	_, err := Parse([]byte("database:\n  path: ./x.db\nidempotency:\n  ttl: -1h\n"), false)
	if err == nil || !strings.Contains(err.Error(), "idempotency.ttl") {
		t.Errorf("Parse() error = %v, want idempotency.ttl rejection", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Database: DatabaseConfig{Path: "./x.db"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"tailscale with hostname", func(c *Config) {
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = "slotchat"
		}, ""},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"mongo without url", func(c *Config) { c.Database.Driver = "mongo" }, "database.url"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"secret and public key", func(c *Config) {
			c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.Auth.PublicKeyFile = "/etc/idp.pem"
		}, "mutually exclusive"},
		{"redis without addr", func(c *Config) { c.Idempotency.Backend = "redis" }, "redis_addr"},
		{"unknown idempotency backend", func(c *Config) { c.Idempotency.Backend = "etcd" }, "idempotency.backend"},
		{"negative idempotency ttl", func(c *Config) { c.Idempotency.TTL = -time.Minute }, "idempotency.ttl"},
		{"negative idempotency max entries", func(c *Config) { c.Idempotency.MaxEntries = -1 }, "idempotency.max_entries"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SLOTCHAT_TEST_VAR", "value")

	tests := []struct {
		input string
		want  string
	}{
		{"${SLOTCHAT_TEST_VAR}", "value"},
		{"prefix-${SLOTCHAT_TEST_VAR}-suffix", "prefix-value-suffix"},
		{"${SLOTCHAT_TEST_UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
