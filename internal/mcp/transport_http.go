package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// httpTransport speaks JSON-RPC over plain HTTP POST, one request per call.
// Streamable-HTTP servers accept this as the non-streaming mode.
type httpTransport struct {
	cfg    *ServerConfig
	client *http.Client
	nextID atomic.Int64
}

func newHTTPTransport(cfg *ServerConfig) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.callTimeout()},
	}
}

// Connect implements Transport; HTTP needs no setup.
func (t *httpTransport) Connect(ctx context.Context) error { return nil }

// Call implements Transport.
func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcp: marshal params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp: post: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return nil, fmt.Errorf("mcp: server %s returned %d: %s", t.cfg.ID, httpResp.StatusCode, payload)
	}

	var resp jsonRPCResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("mcp: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp: server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// Notify implements Transport.
func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	notif := jsonRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("mcp: marshal params: %w", err)
		}
		notif.Params = raw
	}
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("mcp: marshal notification: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mcp: build notification: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mcp: post notification: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Close implements Transport.
func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
