package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// OllamaLlm bridges a local Ollama server over its NDJSON chat API. This is
// the zero-credential local inference path.
type OllamaLlm struct {
	httpClient   *http.Client
	baseURL      string
	defaultModel string
}

// OllamaConfig configures the Ollama bridge.
type OllamaConfig struct {
	// BaseURL of the server. Defaults to http://localhost:11434.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// NewOllamaLlm creates the bridge.
func NewOllamaLlm(cfg OllamaConfig) *OllamaLlm {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaLlm{httpClient: client, baseURL: strings.TrimSuffix(base, "/"), defaultModel: model}
}

// Name implements Llm.
func (p *OllamaLlm) Name() string { return "ollama" }

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []any           `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// GenerateContent implements Llm.
func (p *OllamaLlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body, err := json.Marshal(p.buildRequest(req, model, streaming))
	if err != nil {
		return nil, NewProviderError(KindInvalidRequest, "ollama", model, "encode request", err)
	}

	out := make(chan *models.LlmResponse)
	go func() {
		defer close(out)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			sendFrame(ctx, out, errorFrame(NewProviderError(KindInvalidRequest, "ollama", model, "build request", err)))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			sendFrame(ctx, out, errorFrame(NewProviderError(KindTransport, "ollama", model, "request failed", err)))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			sendFrame(ctx, out, errorFrame(&ProviderError{
				Kind: KindFromStatus(resp.StatusCode), Provider: "ollama", Model: model,
				Status: resp.StatusCode, Message: strings.TrimSpace(string(payload)),
			}))
			return
		}
		p.pump(ctx, resp.Body, out, model, streaming)
	}()
	return out, nil
}

func (p *OllamaLlm) buildRequest(req *models.LlmRequest, model string, streaming bool) ollamaChatRequest {
	wire := ollamaChatRequest{Model: model, Stream: streaming}
	for _, content := range req.Contents {
		msg := ollamaMessage{Role: ollamaRole(content.Role)}
		for _, part := range content.Parts {
			switch v := part.(type) {
			case models.TextPart:
				msg.Content += v.Text
			case models.InlineDataPart:
				msg.Images = append(msg.Images, base64Encode(v.Data))
			case models.FunctionCallPart:
				var call ollamaToolCall
				call.Function.Name = v.Name
				call.Function.Arguments = v.Args
				msg.ToolCalls = append(msg.ToolCalls, call)
			case models.FunctionResponsePart:
				// Ollama carries tool output as a plain tool-role message.
				msg.Role = "tool"
				msg.Content = string(v.Response)
			case models.ThinkingPart:
				// Not replayed.
			}
		}
		wire.Messages = append(wire.Messages, msg)
	}

	for _, decl := range sortedDeclarations(req.Tools) {
		params := decl.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wire.Tools = append(wire.Tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        decl.Name,
				"description": decl.Description,
				"parameters":  json.RawMessage(params),
			},
		})
	}

	if cfg := req.Config; cfg != nil {
		opts := map[string]any{}
		if cfg.Temperature != nil {
			opts["temperature"] = *cfg.Temperature
		}
		if cfg.TopP != nil {
			opts["top_p"] = *cfg.TopP
		}
		if cfg.TopK != nil {
			opts["top_k"] = *cfg.TopK
		}
		if cfg.MaxOutputTokens != nil {
			opts["num_predict"] = *cfg.MaxOutputTokens
		}
		if len(cfg.StopSequences) > 0 {
			opts["stop"] = cfg.StopSequences
		}
		if len(opts) > 0 {
			wire.Options = opts
		}
	}
	return wire
}

func ollamaRole(role models.Role) string {
	switch role {
	case models.RoleModel:
		return "assistant"
	case models.RoleSystem:
		return "system"
	case models.RoleTool, models.RoleFunction:
		return "tool"
	default:
		return "user"
	}
}

func (p *OllamaLlm) pump(ctx context.Context, body io.Reader, out chan<- *models.LlmResponse, model string, streaming bool) {
	var (
		aggregate = models.Content{Role: models.RoleModel}
		usage     *models.UsageMetadata
		finish    models.FinishReason
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			sendFrame(ctx, out, errorFrame(NewProviderError(KindDecode, "ollama", model, "decode chunk", err)))
			return
		}
		if chunk.Error != "" {
			sendFrame(ctx, out, errorFrame(&ProviderError{
				Kind: KindProvider, Provider: "ollama", Model: model, Message: chunk.Error,
			}))
			return
		}
		if chunk.Message.Content != "" {
			aggregate.Parts = append(aggregate.Parts, models.TextPart{Text: chunk.Message.Content})
			if streaming && !chunk.Done {
				if !sendFrame(ctx, out, &models.LlmResponse{
					Content: models.NewTextContent(models.RoleModel, chunk.Message.Content),
					Partial: true,
				}) {
					return
				}
			}
		}
		for _, call := range chunk.Message.ToolCalls {
			args := call.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			aggregate.Parts = append(aggregate.Parts, models.FunctionCallPart{
				ID:   fmt.Sprintf("call_%s", uuid.NewString()[:8]),
				Name: call.Function.Name,
				Args: args,
			})
		}
		if chunk.Done {
			usage = &models.UsageMetadata{
				PromptTokens:     chunk.PromptEvalCount,
				CandidatesTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			finish = ollamaFinishReason(chunk.DoneReason)
		}
	}
	if err := scanner.Err(); err != nil {
		sendFrame(ctx, out, errorFrame(NewProviderError(KindTransport, "ollama", model, "stream read", err)))
		return
	}
	sendFrame(ctx, out, finalFrame(finish, usage, coalesceText(&aggregate)))
}

func ollamaFinishReason(reason string) models.FinishReason {
	switch reason {
	case "stop":
		return models.FinishStop
	case "length":
		return models.FinishMaxTokens
	case "":
		return models.FinishUnspecified
	default:
		return models.FinishOther
	}
}
