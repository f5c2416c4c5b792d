package agent

import (
	"encoding/json"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// ModelCallback runs before or after a model call. content is the candidate
// content at that hook point: the user's last turn for before-model hooks,
// the model's final content for after-model hooks. Returning a non-nil
// content substitutes it; returning nil passes through. An error aborts the
// invocation.
type ModelCallback func(ctx *CallbackContext, content *models.Content) (*models.Content, error)

// ToolCallback runs before or after a tool execution. For before-tool hooks
// response is nil; returning a non-nil payload substitutes the tool response
// and skips execution. For after-tool hooks response is the tool's output
// and a non-nil return replaces it. An error aborts the invocation.
type ToolCallback func(ctx *ToolContext, call models.FunctionCallPart, response json.RawMessage) (json.RawMessage, error)

// Callbacks bundles the four hook chains. Hooks run in registration order;
// every hook in a chain runs even after a substitution, each seeing the
// substituted value.
type Callbacks struct {
	BeforeModel []ModelCallback
	AfterModel  []ModelCallback
	BeforeTool  []ToolCallback
	AfterTool   []ToolCallback
}

// runModelChain threads content through a hook chain, applying replacement
// semantics. The returned bool reports whether any hook substituted.
func runModelChain(chain []ModelCallback, ctx *CallbackContext, content *models.Content) (*models.Content, bool, error) {
	substituted := false
	for _, hook := range chain {
		out, err := hook(ctx, content)
		if err != nil {
			return nil, false, NewError(KindAgent, "callback failed", err)
		}
		if out != nil {
			content = out
			substituted = true
		}
	}
	return content, substituted, nil
}

// runToolChain threads a tool response through a hook chain.
func runToolChain(chain []ToolCallback, ctx *ToolContext, call models.FunctionCallPart, response json.RawMessage) (json.RawMessage, bool, error) {
	substituted := false
	for _, hook := range chain {
		out, err := hook(ctx, call, response)
		if err != nil {
			return nil, false, NewError(KindAgent, "callback failed", err)
		}
		if out != nil {
			response = out
			substituted = true
		}
	}
	return response, substituted, nil
}
