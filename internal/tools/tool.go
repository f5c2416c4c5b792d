// Package tools defines the tool contract, the per-agent registry, and
// toolsets. Tool argument validation uses JSON Schema; execution receives the
// exact JSON args the model emitted.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// Context is the view a tool gets of its invocation. It exposes identity and
// lookup capabilities plus a single mutable slot: the Actions bundle the tool
// publishes before returning.
//
// The engine's implementation lives in the agent package and the realtime
// package has a minimal one; tools only see this interface.
type Context interface {
	context.Context

	// InvocationID identifies the enclosing invocation.
	InvocationID() string

	// AgentName is the name of the agent dispatching this call.
	AgentName() string

	// UserID identifies the end user.
	UserID() string

	// AppName identifies the application.
	AppName() string

	// SessionID identifies the conversation.
	SessionID() string

	// FunctionCallID is the id of the function call being served.
	FunctionCallID() string

	// Actions returns the bundle as last published.
	Actions() models.EventActions

	// SetActions publishes the tool's full actions bundle. Single writer:
	// the executing tool. The engine reads it once after execution.
	SetActions(models.EventActions)

	// SearchMemory queries the memory service, if one is attached.
	SearchMemory(ctx context.Context, query string) ([]string, error)

	// Ended reports whether the invocation has been terminated; long tools
	// should poll it between steps.
	Ended() bool
}

// Tool is the executable contract. Execute receives exactly the JSON args
// the model emitted and returns a JSON payload for the function response.
type Tool interface {
	// Name returns the tool's unique name within an agent.
	Name() string

	// Description explains the tool to the model.
	Description() string

	// ParametersSchema returns the JSON Schema for args, or nil.
	ParametersSchema() json.RawMessage

	// Execute runs the tool.
	Execute(ctx Context, args json.RawMessage) (json.RawMessage, error)
}

// ResponseSchemaProvider is implemented by tools that also declare their
// response shape.
type ResponseSchemaProvider interface {
	ResponseSchema() json.RawMessage
}

// Declaration converts a tool into its model-facing declaration.
func Declaration(t Tool) models.ToolDeclaration {
	return models.ToolDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.ParametersSchema(),
	}
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Fn              func(ctx Context, args json.RawMessage) (json.RawMessage, error)
}

// Name implements Tool.
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f *Func) Description() string { return f.ToolDescription }

// ParametersSchema implements Tool.
func (f *Func) ParametersSchema() json.RawMessage { return f.Schema }

// Execute implements Tool.
func (f *Func) Execute(ctx Context, args json.RawMessage) (json.RawMessage, error) {
	return f.Fn(ctx, args)
}

// Predicate decides whether a toolset member is exposed for a given call
// context.
type Predicate func(ctx Context, t Tool) bool

// Toolset is a named group of tools with an optional inclusion predicate.
// When an agent includes a toolset, it is materialized into the agent's tool
// map filtered by the predicate.
type Toolset struct {
	Name      string
	Tools     []Tool
	Predicate Predicate

	mu sync.Mutex
}

// Materialize returns the member tools the predicate admits for ctx.
func (s *Toolset) Materialize(ctx Context) []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Predicate == nil {
		out := make([]Tool, len(s.Tools))
		copy(out, s.Tools)
		return out
	}
	var out []Tool
	for _, t := range s.Tools {
		if s.Predicate(ctx, t) {
			out = append(out, t)
		}
	}
	return out
}
