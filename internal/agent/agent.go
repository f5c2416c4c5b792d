package agent

import (
	"github.com/haasonsaas/agentkit/pkg/models"
)

// Agent is anything that can drive an invocation to completion, producing a
// finite, ordered event stream. The stream always ends with a terminal
// event: either a clean turn-complete frame or an error frame.
type Agent interface {
	// Name returns the agent's unique name within its parent.
	Name() string

	// Description explains the agent, used when a parent considers
	// delegation targets.
	Description() string

	// Run drives one invocation. The returned channel closes after the
	// terminal event. Callers cancel by dropping the channel's context or
	// calling ctx.EndInvocation.
	Run(ctx *InvocationContext) (<-chan *models.Event, error)

	// SubAgents returns the declared sub-agents.
	SubAgents() []Agent

	// FindAgent resolves a sub-agent by name, searching recursively.
	FindAgent(name string) Agent
}

// validateSubAgents enforces unique names at build time.
func validateSubAgents(agents []Agent) error {
	seen := map[string]bool{}
	for _, a := range agents {
		if a == nil {
			return configErrorf("nil sub-agent")
		}
		if seen[a.Name()] {
			return agentErrorf("duplicate sub-agent name %q", a.Name())
		}
		seen[a.Name()] = true
	}
	return nil
}

// findAgent searches a sub-agent tree by name.
func findAgent(agents []Agent, name string) Agent {
	for _, a := range agents {
		if a.Name() == name {
			return a
		}
		if found := a.FindAgent(name); found != nil {
			return found
		}
	}
	return nil
}

// CustomAgent replaces the LLM loop with a user-supplied handler. Sub-agents
// are still tracked and enforced for uniqueness, but scheduling them is the
// handler's responsibility.
type CustomAgent struct {
	name        string
	description string
	handler     func(ctx *InvocationContext) (<-chan *models.Event, error)
	subAgents   []Agent
}

// CustomAgentConfig configures NewCustomAgent.
type CustomAgentConfig struct {
	Name        string
	Description string
	Handler     func(ctx *InvocationContext) (<-chan *models.Event, error)
	SubAgents   []Agent
}

// NewCustomAgent builds a handler-backed agent.
func NewCustomAgent(cfg CustomAgentConfig) (*CustomAgent, error) {
	if cfg.Name == "" {
		return nil, configErrorf("agent name is required")
	}
	if cfg.Handler == nil {
		return nil, agentErrorf("agent %q has no handler", cfg.Name)
	}
	if err := validateSubAgents(cfg.SubAgents); err != nil {
		return nil, err
	}
	return &CustomAgent{
		name:        cfg.Name,
		description: cfg.Description,
		handler:     cfg.Handler,
		subAgents:   cfg.SubAgents,
	}, nil
}

// Name implements Agent.
func (a *CustomAgent) Name() string { return a.name }

// Description implements Agent.
func (a *CustomAgent) Description() string { return a.description }

// SubAgents implements Agent.
func (a *CustomAgent) SubAgents() []Agent { return a.subAgents }

// FindAgent implements Agent.
func (a *CustomAgent) FindAgent(name string) Agent { return findAgent(a.subAgents, name) }

// Run implements Agent.
func (a *CustomAgent) Run(ctx *InvocationContext) (<-chan *models.Event, error) {
	return a.handler(ctx)
}
