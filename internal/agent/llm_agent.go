package agent

import (
	"log/slog"

	"github.com/haasonsaas/agentkit/internal/observability"
	"github.com/haasonsaas/agentkit/internal/providers"
	"github.com/haasonsaas/agentkit/internal/tools"
	"github.com/haasonsaas/agentkit/pkg/models"
)

// LLMAgent drives an LLM-backed invocation: preflight callbacks, model call,
// tool dispatch, and recursive re-entry until a terminal condition.
type LLMAgent struct {
	name        string
	description string
	instruction string

	model          providers.Llm
	modelName      string
	generateConfig *models.GenerateConfig

	registry  *tools.Registry
	callbacks Callbacks

	subAgents           []Agent
	resumeAfterTransfer bool

	logger  *slog.Logger
	metrics *observability.Metrics
}

// LLMAgentConfig configures NewLLMAgent.
type LLMAgentConfig struct {
	// Name uniquely identifies the agent within its parent (required).
	Name string

	// Description explains the agent to delegating parents.
	Description string

	// Instruction is the system prompt prepended to every model turn.
	Instruction string

	// Model is the provider bridge (required).
	Model providers.Llm

	// ModelName selects the model at the provider; empty uses the
	// provider's default.
	ModelName string

	// GenerateConfig tunes generation.
	GenerateConfig *models.GenerateConfig

	// Tools are registered under their names; duplicates fail the build.
	Tools []tools.Tool

	// Toolsets are materialized at build time with a nil context; use
	// per-context predicates only in toolsets attached to dynamic flows.
	Toolsets []*tools.Toolset

	// Callbacks are the four hook chains.
	Callbacks Callbacks

	// SubAgents declares delegation targets; names must be unique.
	SubAgents []Agent

	// ResumeAfterTransfer makes transfer call/return: the parent resumes
	// after the child terminates. Default is single-hop.
	ResumeAfterTransfer bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics optionally instruments model and tool calls.
	Metrics *observability.Metrics
}

// NewLLMAgent validates the config and builds the agent.
func NewLLMAgent(cfg LLMAgentConfig) (*LLMAgent, error) {
	if cfg.Name == "" {
		return nil, configErrorf("agent name is required")
	}
	if cfg.Model == nil {
		return nil, agentErrorf("agent %q has no model", cfg.Name)
	}
	if err := validateSubAgents(cfg.SubAgents); err != nil {
		return nil, err
	}
	registry := tools.NewRegistry()
	for _, t := range cfg.Tools {
		if err := registry.Register(t); err != nil {
			return nil, NewError(KindConfig, "register tool", err)
		}
	}
	for _, set := range cfg.Toolsets {
		if err := registry.AddToolset(nil, set); err != nil {
			return nil, NewError(KindConfig, "register toolset", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMAgent{
		name:                cfg.Name,
		description:         cfg.Description,
		instruction:         cfg.Instruction,
		model:               cfg.Model,
		modelName:           cfg.ModelName,
		generateConfig:      cfg.GenerateConfig,
		registry:            registry,
		callbacks:           cfg.Callbacks,
		subAgents:           cfg.SubAgents,
		resumeAfterTransfer: cfg.ResumeAfterTransfer,
		logger:              logger,
		metrics:             cfg.Metrics,
	}, nil
}

// Name implements Agent.
func (a *LLMAgent) Name() string { return a.name }

// Description implements Agent.
func (a *LLMAgent) Description() string { return a.description }

// SubAgents implements Agent.
func (a *LLMAgent) SubAgents() []Agent { return a.subAgents }

// FindAgent implements Agent.
func (a *LLMAgent) FindAgent(name string) Agent { return findAgent(a.subAgents, name) }

// Tools exposes the agent's registry, mainly for tests and inspection.
func (a *LLMAgent) Tools() *tools.Registry { return a.registry }

// Run implements Agent. The returned stream observes the ordering contract:
// partial frames for a turn are contiguous, every function-call event is
// followed by its function-response event, and exactly one terminal event
// closes the stream.
func (a *LLMAgent) Run(ctx *InvocationContext) (<-chan *models.Event, error) {
	out := make(chan *models.Event)
	flow := &llmFlow{agent: a, inv: ctx, out: out}
	go flow.run()
	return out, nil
}
