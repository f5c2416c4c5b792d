// Package providers implements the LLM provider bridge: one uniform contract
// over heterogeneous transports (JSON over HTTPS, WebSocket upgrades handled
// by the realtime package, AWS event streams, local inference servers).
//
// Each implementation normalizes request shape, streaming semantics,
// tool-call encoding, finish reasons, and usage accounting into the
// provider-neutral types in pkg/models. Retries are NOT performed here;
// retry policy belongs to the caller.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// Llm is the provider bridge contract.
//
// GenerateContent returns a single-shot, ordered, finite stream. The channel
// is closed after at most one frame with TurnComplete set (always the last
// content frame) or one frame carrying an error code. Canceling ctx drops
// the underlying transport and closes the channel promptly.
//
// Implementations must be safe for concurrent use; each call owns an
// independent stream.
type Llm interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// GenerateContent runs one model turn. With streaming set, the provider
	// emits Partial frames as tokens arrive; otherwise it emits a single
	// final frame. Either way the last frame has TurnComplete set.
	GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error)
}

// Registry holds named provider instances. Registration is typically done at
// startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Llm
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Llm{}}
}

// Register adds a provider under its Name. Duplicate names fail: routing by
// name must stay unambiguous.
func (r *Registry) Register(p Llm) error {
	if p == nil {
		return fmt.Errorf("providers: nil provider")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("providers: provider name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("providers: %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Llm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// finalFrame normalizes the end of a provider stream: a stream that ended
// without an explicit terminal frame is treated as turn-complete with an
// unknown finish reason.
func finalFrame(reason models.FinishReason, usage *models.UsageMetadata, content *models.Content) *models.LlmResponse {
	if reason == models.FinishUnspecified {
		reason = models.FinishOther
	}
	return &models.LlmResponse{
		Content:       content,
		UsageMetadata: usage,
		FinishReason:  reason,
		TurnComplete:  true,
	}
}

// errorFrame builds the terminal error frame for a stream.
func errorFrame(err error) *models.LlmResponse {
	perr := AsProviderError(err)
	return &models.LlmResponse{
		ErrorCode:    string(perr.Kind),
		ErrorMessage: perr.Message,
		FinishReason: models.FinishOther,
		TurnComplete: true,
	}
}
