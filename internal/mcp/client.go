package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client is a connection to one MCP server: handshake, capability listing,
// and tool calls.
type Client struct {
	cfg       *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu        sync.RWMutex
	connected bool
	tools     []*ServerTool
}

// NewClient validates the config and builds a client. Connect must be called
// before use.
func NewClient(cfg *ServerConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, transport: newTransport(cfg), logger: logger}, nil
}

// Connect establishes the transport, performs the initialize handshake, and
// lists the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	_, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "agentkit",
			"version": "1.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("mcp: initialize %s: %w", c.cfg.ID, err)
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "server", c.cfg.ID, "error", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.transport.Close()
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("mcp server connected", "server", c.cfg.ID, "tools", len(c.Tools()))
	return nil
}

func (c *Client) refreshTools(ctx context.Context) error {
	raw, err := c.transport.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return fmt.Errorf("mcp: list tools on %s: %w", c.cfg.ID, err)
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("mcp: decode tool list: %w", err)
	}
	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the server's advertised tools.
func (c *Client) Tools() []*ServerTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ServerTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connected reports whether the handshake completed.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// CallTool invokes a tool on the server with the given JSON arguments.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	raw, err := c.transport.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: decode tool result: %w", err)
	}
	return &result, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.transport.Close()
}
