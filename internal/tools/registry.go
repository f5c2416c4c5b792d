package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// Registry holds the tools of one agent, keyed by name. Duplicate names fail
// at registration: the model routes calls by name and ambiguity would be
// silent misbehavior.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Fails on empty or duplicate names and on invalid
// parameter schemas.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tools: nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tools: tool name is empty")
	}
	if schema := t.ParametersSchema(); len(schema) > 0 {
		if err := CompileSchema(name, schema); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// AddToolset materializes a toolset into the registry for the given context.
func (r *Registry) AddToolset(ctx Context, set *Toolset) error {
	for _, t := range set.Materialize(ctx) {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("tools: toolset %q: %w", set.Name, err)
		}
	}
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Declarations returns the model-facing declarations keyed by name.
func (r *Registry) Declarations() map[string]models.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.ToolDeclaration, len(r.tools))
	for name, t := range r.tools {
		out[name] = Declaration(t)
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks args against the tool's parameter schema, when one is
// declared. The args passed to Execute are always the model's original
// bytes; validation never rewrites them.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	schema := t.ParametersSchema()
	if len(schema) == 0 {
		return nil
	}
	return ValidateAgainstSchema(name, schema, args)
}
