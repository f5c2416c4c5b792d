package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// bridgedTool adapts one server tool to the runtime tool contract. Each call
// is bounded by the server's per-call timeout through the client transport.
type bridgedTool struct {
	client *Client
	tool   *ServerTool
	name   string
}

// Name implements tools.Tool. Names are prefixed with the server id so two
// servers exposing the same tool stay distinguishable.
func (b *bridgedTool) Name() string { return b.name }

// Description implements tools.Tool.
func (b *bridgedTool) Description() string { return b.tool.Description }

// ParametersSchema implements tools.Tool.
func (b *bridgedTool) ParametersSchema() json.RawMessage { return b.tool.InputSchema }

// Execute implements tools.Tool. Server-side tool errors come back as error
// payloads, matching the engine's recoverable-tool-error policy.
func (b *bridgedTool) Execute(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
	result, err := b.client.CallTool(ctx, b.tool.Name, args)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp: tool %s failed: %s", b.tool.Name, result.Text())
	}
	payload, err := json.Marshal(map[string]string{"result": result.Text()})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// sanitizeName maps an MCP tool name into the model-safe charset.
func sanitizeName(serverID, tool string) string {
	name := serverID + "_" + tool
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// Toolset connects to the configured server and surfaces its tools as a
// toolset the agent builder can include.
func Toolset(ctx context.Context, client *Client, predicate tools.Predicate) (*tools.Toolset, error) {
	if !client.Connected() {
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
	}
	set := &tools.Toolset{
		Name:      "mcp:" + client.cfg.ID,
		Predicate: predicate,
	}
	for _, st := range client.Tools() {
		set.Tools = append(set.Tools, &bridgedTool{
			client: client,
			tool:   st,
			name:   sanitizeName(client.cfg.ID, st.Name),
		})
	}
	return set, nil
}
