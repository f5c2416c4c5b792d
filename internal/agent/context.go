// Package agent implements the execution engine: invocation contexts, the
// callback chains, the LLM-driven event loop, and sub-agent delegation.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkit/internal/artifacts"
	"github.com/haasonsaas/agentkit/internal/memory"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/pkg/models"
)

// Identity carries the identifiers of one invocation. Immutable for the
// invocation's lifetime; Branch defaults to "main" and grows one path
// segment per sub-agent transfer.
type Identity struct {
	InvocationID string
	AgentName    string
	UserID       string
	AppName      string
	SessionID    string
	Branch       string
}

// RunConfig tunes one invocation.
type RunConfig struct {
	// Streaming asks providers for token deltas. Default true.
	Streaming bool

	// MaxIterations bounds model/tool round trips. Default 10.
	MaxIterations int
}

// DefaultMaxIterations bounds the model/tool loop when RunConfig does not.
const DefaultMaxIterations = 10

func (c RunConfig) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}

// ReadonlyContext is the base context view: identity, the triggering user
// content, and a read-only metadata map.
type ReadonlyContext struct {
	ctx         context.Context
	identity    Identity
	userContent *models.Content
	metadata    map[string]string
}

// Context returns the underlying cancelation context.
func (c *ReadonlyContext) Context() context.Context { return c.ctx }

// InvocationID returns the invocation identifier.
func (c *ReadonlyContext) InvocationID() string { return c.identity.InvocationID }

// AgentName returns the running agent's name.
func (c *ReadonlyContext) AgentName() string { return c.identity.AgentName }

// UserID returns the end-user identifier.
func (c *ReadonlyContext) UserID() string { return c.identity.UserID }

// AppName returns the application name.
func (c *ReadonlyContext) AppName() string { return c.identity.AppName }

// SessionID returns the conversation identifier.
func (c *ReadonlyContext) SessionID() string { return c.identity.SessionID }

// Branch returns the hierarchical invocation branch.
func (c *ReadonlyContext) Branch() string { return c.identity.Branch }

// UserContent returns the content that triggered the invocation.
func (c *ReadonlyContext) UserContent() *models.Content { return c.userContent }

// Metadata returns the value for key, if set.
func (c *ReadonlyContext) Metadata(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// CallbackContext is the view model callbacks receive: read-only identity
// plus the optional artifact store.
type CallbackContext struct {
	ReadonlyContext
	artifacts artifacts.Service
}

// Artifacts returns the artifact store, or nil.
func (c *CallbackContext) Artifacts() artifacts.Service { return c.artifacts }

// InvocationContext carries everything an agent run needs: the callback view
// plus agent, session, memory, run config, and termination signaling.
type InvocationContext struct {
	CallbackContext

	agent      Agent
	session    *sessions.Session
	sessionSvc sessions.Service
	memorySvc  memory.Service
	runConfig  RunConfig
	logger     *slog.Logger
	ended      atomic.Bool
}

// InvocationParams configures NewInvocationContext. Zero-valued optional
// fields get defaults: a fresh InvocationID, Branch "main", streaming on.
type InvocationParams struct {
	Context     context.Context
	Identity    Identity
	UserContent *models.Content
	Metadata    map[string]string
	Agent       Agent
	Session     *sessions.Session
	Sessions    sessions.Service
	Memory      memory.Service
	Artifacts   artifacts.Service
	RunConfig   RunConfig
	Logger      *slog.Logger
}

// NewInvocationContext builds the context for one agent run.
func NewInvocationContext(p InvocationParams) *InvocationContext {
	if p.Context == nil {
		p.Context = context.Background()
	}
	if p.Identity.InvocationID == "" {
		p.Identity.InvocationID = "e-" + uuid.NewString()
	}
	if p.Identity.Branch == "" {
		p.Identity.Branch = "main"
	}
	if p.Agent != nil && p.Identity.AgentName == "" {
		p.Identity.AgentName = p.Agent.Name()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	ic := &InvocationContext{
		CallbackContext: CallbackContext{
			ReadonlyContext: ReadonlyContext{
				ctx:         p.Context,
				identity:    p.Identity,
				userContent: p.UserContent,
				metadata:    p.Metadata,
			},
			artifacts: p.Artifacts,
		},
		agent:      p.Agent,
		session:    p.Session,
		sessionSvc: p.Sessions,
		memorySvc:  p.Memory,
		runConfig:  p.RunConfig,
		logger:     p.Logger,
	}
	return ic
}

// Agent returns the agent this invocation runs.
func (c *InvocationContext) Agent() Agent { return c.agent }

// Session returns the borrowed session snapshot, or nil.
func (c *InvocationContext) Session() *sessions.Session { return c.session }

// Sessions returns the session service, or nil.
func (c *InvocationContext) Sessions() sessions.Service { return c.sessionSvc }

// Memory returns the memory service, or nil.
func (c *InvocationContext) Memory() memory.Service { return c.memorySvc }

// RunConfig returns the invocation's run configuration.
func (c *InvocationContext) RunConfig() RunConfig { return c.runConfig }

// Logger returns the invocation logger.
func (c *InvocationContext) Logger() *slog.Logger { return c.logger }

// EndInvocation signals termination. Idempotent; subsequent steps observe
// Ended and stop producing events.
func (c *InvocationContext) EndInvocation() { c.ended.Store(true) }

// Ended reports whether termination was requested, either explicitly or by
// canceling the underlying context.
func (c *InvocationContext) Ended() bool {
	return c.ended.Load() || c.ctx.Err() != nil
}

// child derives the context a transferred sub-agent runs under: same
// identity and services, a branch extended with the child's name.
func (c *InvocationContext) child(target Agent) *InvocationContext {
	ident := c.identity
	ident.AgentName = target.Name()
	ident.Branch = c.identity.Branch + "/" + target.Name()
	return NewInvocationContext(InvocationParams{
		Context:     c.ctx,
		Identity:    ident,
		UserContent: c.userContent,
		Metadata:    c.metadata,
		Agent:       target,
		Session:     c.session,
		Sessions:    c.sessionSvc,
		Memory:      c.memorySvc,
		Artifacts:   c.artifacts,
		RunConfig:   c.runConfig,
		Logger:      c.logger,
	})
}

// ToolContext is the per-call view a tool receives. It adds the originating
// function-call id and the single mutable Actions slot, guarded by a mutex
// with the tool as single writer.
type ToolContext struct {
	context.Context
	invocation     *InvocationContext
	functionCallID string

	mu      sync.Mutex
	actions models.EventActions
}

// NewToolContext builds the context for one tool execution.
func NewToolContext(inv *InvocationContext, functionCallID string) *ToolContext {
	return &ToolContext{
		Context:        inv.ctx,
		invocation:     inv,
		functionCallID: functionCallID,
	}
}

// InvocationID implements tools.Context.
func (c *ToolContext) InvocationID() string { return c.invocation.InvocationID() }

// AgentName implements tools.Context.
func (c *ToolContext) AgentName() string { return c.invocation.AgentName() }

// UserID implements tools.Context.
func (c *ToolContext) UserID() string { return c.invocation.UserID() }

// AppName implements tools.Context.
func (c *ToolContext) AppName() string { return c.invocation.AppName() }

// SessionID implements tools.Context.
func (c *ToolContext) SessionID() string { return c.invocation.SessionID() }

// FunctionCallID implements tools.Context.
func (c *ToolContext) FunctionCallID() string { return c.functionCallID }

// Actions implements tools.Context.
func (c *ToolContext) Actions() models.EventActions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions
}

// SetActions implements tools.Context. A tool publishes its full bundle
// before returning; the engine reads it once after execution.
func (c *ToolContext) SetActions(a models.EventActions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = a
}

// SearchMemory implements tools.Context.
func (c *ToolContext) SearchMemory(ctx context.Context, query string) ([]string, error) {
	svc := c.invocation.memorySvc
	if svc == nil {
		return nil, nil
	}
	return svc.Search(ctx, c.invocation.AppName(), c.invocation.UserID(), query)
}

// Ended implements tools.Context; long-running tools poll it between steps.
func (c *ToolContext) Ended() bool { return c.invocation.Ended() }
