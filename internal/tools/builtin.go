package tools

import (
	"encoding/json"
	"fmt"
)

// ExitLoop returns the built-in tool that ends the invocation. Loop-style
// agents expose it so the model can stop iterating.
func ExitLoop() Tool {
	return &Func{
		ToolName:        "exit_loop",
		ToolDescription: "Ends the current invocation. Call when the task is complete.",
		Fn: func(ctx Context, args json.RawMessage) (json.RawMessage, error) {
			actions := ctx.Actions()
			actions.EndInvocation = true
			ctx.SetActions(actions)
			return json.RawMessage(`{"status":"exiting"}`), nil
		},
	}
}

// TransferToAgent returns the built-in delegation tool. The engine consumes
// the resulting action after the tool returns.
func TransferToAgent() Tool {
	return &Func{
		ToolName:        "transfer_to_agent",
		ToolDescription: "Transfers the conversation to the named sub-agent.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_name": {"type": "string", "description": "Name of the agent to transfer to."}
			},
			"required": ["agent_name"]
		}`),
		Fn: func(ctx Context, args json.RawMessage) (json.RawMessage, error) {
			var parsed struct {
				AgentName string `json:"agent_name"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return nil, fmt.Errorf("tools: transfer_to_agent args: %w", err)
			}
			actions := ctx.Actions()
			actions.TransferToAgent = parsed.AgentName
			ctx.SetActions(actions)
			return json.RawMessage(fmt.Sprintf(`{"status":"transferring","agent":%q}`, parsed.AgentName)), nil
		},
	}
}

// LoadMemory returns the built-in memory search tool.
func LoadMemory() Tool {
	return &Func{
		ToolName:        "load_memory",
		ToolDescription: "Searches long-term memory for entries relevant to the query.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"}
			},
			"required": ["query"]
		}`),
		Fn: func(ctx Context, args json.RawMessage) (json.RawMessage, error) {
			var parsed struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return nil, fmt.Errorf("tools: load_memory args: %w", err)
			}
			hits, err := ctx.SearchMemory(ctx, parsed.Query)
			if err != nil {
				return nil, err
			}
			if hits == nil {
				hits = []string{}
			}
			payload, err := json.Marshal(map[string]any{"memories": hits})
			if err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}
