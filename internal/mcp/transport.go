package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC frames to and from an MCP server.
type Transport interface {
	// Connect establishes the underlying channel.
	Connect(ctx context.Context) error

	// Call sends a request and waits for its response, bounded by ctx and
	// the configured per-call timeout.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a fire-and-forget notification.
	Notify(ctx context.Context, method string, params any) error

	// Close tears the channel down. Idempotent.
	Close() error
}

// newTransport picks the transport for a config. The config is assumed
// validated.
func newTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportHTTP:
		return newHTTPTransport(cfg)
	default:
		return newStdioTransport(cfg)
	}
}
