// Package config handles Registrar configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/registrar/config.yaml, /etc/registrar/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "registrar", "config.yaml"))
	}

	paths = append(paths, "/etc/registrar/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Registrar configuration.
type Config struct {
	Listen    ListenConfig            `yaml:"listen"`
	Models    ModelsConfig            `yaml:"models"`
	Anthropic AnthropicConfig         `yaml:"anthropic"`
	Agent     AgentConfig             `yaml:"agent"`
	Auth      AuthConfig              `yaml:"auth"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines which model answers chat turns and where the
// providers live.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic
}

// AgentConfig bounds the dispatch loop. Every limit here is mandatory;
// zero values are replaced by defaults in [Config.ApplyDefaults].
type AgentConfig struct {
	// MaxRounds caps model→tools round trips per chat turn.
	MaxRounds int `yaml:"max_rounds"`
	// LLMTimeout bounds a single model call.
	LLMTimeout time.Duration `yaml:"llm_timeout"`
	// LLMRetries is the number of extra attempts after a transient
	// model failure.
	LLMRetries int `yaml:"llm_retries"`
	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// ToolRetries is the number of extra attempts for read-only tools
	// that fail transiently. Write tools are never retried.
	ToolRetries int `yaml:"tool_retries"`
	// RetryBackoff is the base delay between retries; it doubles per
	// attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// ToolConcurrency caps parallel tool calls within one model turn.
	ToolConcurrency int `yaml:"tool_concurrency"`
}

// AuthConfig controls bearer token verification on the HTTP API.
type AuthConfig struct {
	// JWTSecret is the HS256 signing key shared with the identity
	// service that issues tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer"`
	// TokenTTL is the lifetime of tokens minted by the token subcommand.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// PricingEntry holds per-million-token prices for a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	a := &c.Agent
	if a.MaxRounds == 0 {
		a.MaxRounds = 15
	}
	if a.LLMTimeout == 0 {
		a.LLMTimeout = 45 * time.Second
	}
	if a.LLMRetries == 0 {
		a.LLMRetries = 2
	}
	if a.ToolTimeout == 0 {
		a.ToolTimeout = 20 * time.Second
	}
	if a.ToolRetries == 0 {
		a.ToolRetries = 2
	}
	if a.RetryBackoff == 0 {
		a.RetryBackoff = 500 * time.Millisecond
	}
	if a.ToolConcurrency == 0 {
		a.ToolConcurrency = 4
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
}

// Validate reports configuration errors that must stop startup.
// Problems are collected so the operator sees all of them at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	needAnthropic := false
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "":
		case "anthropic":
			needAnthropic = true
		default:
			errs = append(errs, fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider))
		}
	}
	if needAnthropic && c.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("anthropic.api_key is required when an anthropic model is configured"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Agent.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("agent.max_rounds must be positive, got %d", c.Agent.MaxRounds))
	}
	if c.Agent.ToolConcurrency < 1 {
		errs = append(errs, fmt.Errorf("agent.tool_concurrency must be positive, got %d", c.Agent.ToolConcurrency))
	}
	if c.Agent.LLMTimeout <= 0 {
		errs = append(errs, errors.New("agent.llm_timeout must be positive"))
	}
	if c.Agent.LLMRetries < 0 || c.Agent.ToolRetries < 0 {
		errs = append(errs, errors.New("agent retry counts must not be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ProviderFor returns the configured provider for a model name,
// defaulting to ollama for unlisted models.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model && m.Provider != "" {
			return m.Provider
		}
	}
	return "ollama"
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "qwen3:8b",
			OllamaURL: "http://localhost:11434",
			Available: []ModelConfig{
				{Name: "qwen3:8b", Provider: "ollama"},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}
