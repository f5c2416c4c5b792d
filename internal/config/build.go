package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haasonsaas/agentkit/internal/agent"
	"github.com/haasonsaas/agentkit/internal/mcp"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/internal/tools"
)

// Runtime is everything Build constructs from a Config: the provider
// registry, the session backend, connected MCP clients, and the agents
// keyed by name. Callers pick a root agent and hand it to the runner.
type Runtime struct {
	Providers  *providers.Registry
	Sessions   sessions.Service
	Agents     map[string]agent.Agent
	MCPClients []*mcp.Client

	// RunConfigs carries each agent's invocation defaults (max_iterations);
	// callers pass the root agent's entry to the runner.
	RunConfigs map[string]agent.RunConfig

	closers []func() error
}

// Close releases everything the build opened: MCP connections and any
// SQL-backed session store.
func (r *Runtime) Close() error {
	var firstErr error
	for _, c := range r.MCPClients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build turns a parsed Config into a running runtime: providers are
// registered, the session backend is opened, MCP servers are connected and
// their tools materialized into toolsets, and the declared agents are built
// with their sub-agent trees resolved. The config is assumed Validate-d
// (Parse and Load do that).
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		Providers:  providers.NewRegistry(),
		Agents:     map[string]agent.Agent{},
		RunConfigs: map[string]agent.RunConfig{},
	}

	if err := buildProviders(ctx, cfg, rt); err != nil {
		return nil, err
	}
	if err := buildSessions(ctx, cfg, rt); err != nil {
		return nil, err
	}
	toolsets, err := buildMCP(ctx, cfg, rt, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := buildAgents(cfg, rt, toolsets, logger); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func buildProviders(ctx context.Context, cfg *Config, rt *Runtime) error {
	register := func(p providers.Llm, err error) error {
		if err != nil {
			return err
		}
		return rt.Providers.Register(p)
	}

	if pc := cfg.Providers.Anthropic; pc != nil {
		err := register(providers.NewAnthropicLlm(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		}))
		if err != nil {
			return err
		}
	}
	if pc := cfg.Providers.OpenAI; pc != nil {
		err := register(providers.NewOpenAILlm(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		}), nil)
		if err != nil {
			return err
		}
	}
	if pc := cfg.Providers.Gemini; pc != nil {
		gcfg := providers.GeminiConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		}
		if pc.ServiceAccountFile != "" {
			keyJSON, err := os.ReadFile(pc.ServiceAccountFile)
			if err != nil {
				return fmt.Errorf("config: read gemini service account: %w", err)
			}
			src, err := providers.NewServiceAccountTokenSource(keyJSON,
				"https://www.googleapis.com/auth/cloud-platform")
			if err != nil {
				return err
			}
			gcfg.TokenSource = src
		}
		if err := register(providers.NewGeminiLlm(gcfg)); err != nil {
			return err
		}
	}
	if pc := cfg.Providers.Bedrock; pc != nil {
		err := register(providers.NewBedrockLlm(ctx, providers.BedrockConfig{
			Region:          pc.Region,
			AccessKeyID:     pc.AccessKeyID,
			SecretAccessKey: pc.SecretAccessKey,
			DefaultModel:    pc.DefaultModel,
		}))
		if err != nil {
			return err
		}
	}
	if pc := cfg.Providers.Ollama; pc != nil {
		err := register(providers.NewOllamaLlm(providers.OllamaConfig{
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		}), nil)
		if err != nil {
			return err
		}
	}
	if pc := cfg.Providers.MistralRs; pc != nil {
		err := register(providers.NewMistralRsLlm(providers.MistralRsConfig{
			BaseURL:        pc.BaseURL,
			ModelSource:    providers.ModelSource{HuggingFace: pc.ModelSource},
			ISQ:            providers.QuantizationLevel(pc.ISQ),
			Device:         providers.Device(pc.Device),
			PagedAttention: pc.PagedAttention,
			Temperature:    pc.Temperature,
			TopP:           pc.TopP,
			MaxTokens:      pc.MaxTokens,
			NumCtx:         pc.NumCtx,
			Adapter:        pc.Adapter,
			MCPClient:      pc.MCPClient,
		}))
		if err != nil {
			return err
		}
	}
	return nil
}

func buildSessions(ctx context.Context, cfg *Config, rt *Runtime) error {
	switch cfg.Sessions.Backend {
	case "", "memory":
		rt.Sessions = sessions.NewInMemoryService()
	case "sqlite":
		svc, err := sessions.NewSQLiteService(ctx, cfg.Sessions.Path)
		if err != nil {
			return err
		}
		rt.Sessions = svc
		rt.closers = append(rt.closers, svc.Close)
	case "postgres":
		svc, err := sessions.NewPostgresService(ctx, cfg.Sessions.DSN)
		if err != nil {
			return err
		}
		rt.Sessions = svc
		rt.closers = append(rt.closers, svc.Close)
	}
	return nil
}

func buildMCP(ctx context.Context, cfg *Config, rt *Runtime, logger *slog.Logger) ([]*tools.Toolset, error) {
	var toolsets []*tools.Toolset
	for i := range cfg.MCPServers {
		client, err := mcp.NewClient(&cfg.MCPServers[i], logger)
		if err != nil {
			return nil, err
		}
		set, err := mcp.Toolset(ctx, client, nil)
		if err != nil {
			return nil, err
		}
		rt.MCPClients = append(rt.MCPClients, client)
		toolsets = append(toolsets, set)
	}
	return toolsets, nil
}

// buildAgents resolves the sub-agent graph depth-first. Every agent gets the
// MCP toolsets; agents with sub-agents additionally get the transfer tool.
func buildAgents(cfg *Config, rt *Runtime, toolsets []*tools.Toolset, logger *slog.Logger) error {
	building := map[string]bool{}

	var build func(name string) (agent.Agent, error)
	build = func(name string) (agent.Agent, error) {
		if built, ok := rt.Agents[name]; ok {
			return built, nil
		}
		if building[name] {
			return nil, fmt.Errorf("config: sub-agent cycle through %q", name)
		}
		building[name] = true
		defer delete(building, name)

		agentCfg := cfg.Agents[name]
		model, ok := rt.Providers.Get(agentCfg.Provider)
		if !ok {
			return nil, fmt.Errorf("config: agent %q references unconfigured provider %q", name, agentCfg.Provider)
		}

		var subAgents []agent.Agent
		for _, sub := range agentCfg.SubAgents {
			child, err := build(sub)
			if err != nil {
				return nil, err
			}
			subAgents = append(subAgents, child)
		}

		var agentTools []tools.Tool
		if len(subAgents) > 0 {
			agentTools = append(agentTools, tools.TransferToAgent())
		}
		built, err := agent.NewLLMAgent(agent.LLMAgentConfig{
			Name:        name,
			Description: agentCfg.Description,
			Instruction: agentCfg.Instruction,
			Model:       model,
			ModelName:   agentCfg.Model,
			Tools:       agentTools,
			Toolsets:    toolsets,
			SubAgents:   subAgents,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		rt.Agents[name] = built
		rt.RunConfigs[name] = agent.RunConfig{
			Streaming:     true,
			MaxIterations: agentCfg.MaxIterations,
		}
		return built, nil
	}

	for name := range cfg.Agents {
		if _, err := build(name); err != nil {
			return err
		}
	}
	return nil
}
