// Package config loads the runtime configuration from YAML. Parsing is
// strict: unknown fields are rejected at load so typos fail fast instead of
// silently disabling features.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentkit/internal/mcp"
	"github.com/haasonsaas/agentkit/internal/providers"
)

// Config is the root configuration document.
type Config struct {
	// App names the application; used as the session scope key.
	App string `yaml:"app"`

	// Providers configures the LLM bridges by name.
	Providers ProvidersConfig `yaml:"providers"`

	// Sessions selects and configures the session store backend.
	Sessions SessionsConfig `yaml:"sessions"`

	// Agents declares the LLM agents by name.
	Agents map[string]AgentConfig `yaml:"agents"`

	// MCPServers connects external MCP tool servers.
	MCPServers []mcp.ServerConfig `yaml:"mcp_servers"`
}

// ProvidersConfig holds per-provider settings. A nil section leaves that
// provider unconfigured.
type ProvidersConfig struct {
	Anthropic *AnthropicConfig `yaml:"anthropic"`
	OpenAI    *OpenAIConfig    `yaml:"openai"`
	Gemini    *GeminiConfig    `yaml:"gemini"`
	Bedrock   *BedrockConfig   `yaml:"bedrock"`
	Ollama    *OllamaConfig    `yaml:"ollama"`
	MistralRs *MistralRsConfig `yaml:"mistralrs"`
}

// AnthropicConfig configures the Anthropic bridge.
type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// OpenAIConfig configures the OpenAI bridge.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// GeminiConfig configures the Gemini bridge.
type GeminiConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	DefaultModel       string `yaml:"default_model"`
	ServiceAccountFile string `yaml:"service_account_file"`
}

// BedrockConfig configures the Bedrock bridge.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	DefaultModel    string `yaml:"default_model"`
}

// OllamaConfig configures the Ollama bridge.
type OllamaConfig struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// MistralRsConfig configures the local mistral.rs bridge.
type MistralRsConfig struct {
	BaseURL        string                   `yaml:"base_url"`
	ModelSource    string                   `yaml:"model_source"`
	ISQ            string                   `yaml:"isq"`
	Device         string                   `yaml:"device"`
	PagedAttention bool                     `yaml:"paged_attention"`
	Temperature    *float64                 `yaml:"temperature"`
	TopP           *float64                 `yaml:"top_p"`
	MaxTokens      *int                     `yaml:"max_tokens"`
	NumCtx         int                      `yaml:"num_ctx"`
	Adapter        *providers.AdapterConfig `yaml:"adapter"`
	MCPClient      *providers.MCPClientRef  `yaml:"mcp_client"`
}

// SessionsConfig selects the store backend.
type SessionsConfig struct {
	// Backend is one of "memory", "sqlite", "postgres". Default memory.
	Backend string `yaml:"backend"`

	// Path of the sqlite database file.
	Path string `yaml:"path"`

	// DSN of the postgres database.
	DSN string `yaml:"dsn"`
}

// AgentConfig declares one LLM agent.
type AgentConfig struct {
	Description   string        `yaml:"description"`
	Instruction   string        `yaml:"instruction"`
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	MaxIterations int           `yaml:"max_iterations"`
	SubAgents     []string      `yaml:"sub_agents"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Load reads, expands, and strictly parses the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse strictly decodes YAML. ${VAR} references are expanded from the
// environment first so secrets stay out of the file.
func Parse(raw []byte) (*Config, error) {
	expanded := expandEnv(raw)
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envRef.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate cross-checks the document.
func (c *Config) Validate() error {
	switch c.Sessions.Backend {
	case "", "memory":
	case "sqlite":
		if c.Sessions.Path == "" {
			return fmt.Errorf("config: sessions.path is required for the sqlite backend")
		}
	case "postgres":
		if c.Sessions.DSN == "" {
			return fmt.Errorf("config: sessions.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown sessions backend %q", c.Sessions.Backend)
	}

	for name, agentCfg := range c.Agents {
		if agentCfg.Provider == "" {
			return fmt.Errorf("config: agent %q has no provider", name)
		}
		if agentCfg.MaxIterations < 0 {
			return fmt.Errorf("config: agent %q max_iterations must be non-negative", name)
		}
		for _, sub := range agentCfg.SubAgents {
			if _, ok := c.Agents[sub]; !ok {
				return fmt.Errorf("config: agent %q references unknown sub-agent %q", name, sub)
			}
		}
	}

	for i := range c.MCPServers {
		if err := c.MCPServers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
