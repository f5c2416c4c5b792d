package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// defaultAnthropicMaxTokens is used when the request does not cap output.
const defaultAnthropicMaxTokens = 4096

// AnthropicLlm bridges the Anthropic Messages API. Streaming uses the SDK's
// SSE stream; each text delta becomes a Partial frame and the message_stop
// event produces the terminal frame with usage and finish reason.
//
// Safe for concurrent use; every GenerateContent call owns its stream.
type AnthropicLlm struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures the Anthropic bridge.
type AnthropicConfig struct {
	// APIKey authenticates requests (required).
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for proxies.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
}

// NewAnthropicLlm creates the bridge.
func NewAnthropicLlm(cfg AnthropicConfig) (*AnthropicLlm, error) {
	if cfg.APIKey == "" {
		return nil, NewProviderError(KindAuth, "anthropic", "", "API key is required", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicLlm{client: anthropic.NewClient(opts...), defaultModel: model}, nil
}

// Name implements Llm.
func (p *AnthropicLlm) Name() string { return "anthropic" }

// GenerateContent implements Llm.
func (p *AnthropicLlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	out := make(chan *models.LlmResponse)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.pump(ctx, stream, out, streaming)
	}()
	return out, nil
}

func (p *AnthropicLlm) model(req *models.LlmRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicLlm) buildParams(req *models.LlmRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		MaxTokens: defaultAnthropicMaxTokens,
	}

	var system []anthropic.TextBlockParam
	for _, content := range req.Contents {
		if content.Role == models.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: content.Text()})
			continue
		}
		msg, err := encodeAnthropicMessage(content)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, msg)
	}
	params.System = system

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			params.Temperature = anthropic.Float(*cfg.Temperature)
		}
		if cfg.TopP != nil {
			params.TopP = anthropic.Float(*cfg.TopP)
		}
		if cfg.TopK != nil {
			params.TopK = anthropic.Int(int64(*cfg.TopK))
		}
		if cfg.MaxOutputTokens != nil {
			params.MaxTokens = int64(*cfg.MaxOutputTokens)
		}
		if len(cfg.StopSequences) > 0 {
			params.StopSequences = cfg.StopSequences
		}
		// Remaining config fields have no Anthropic equivalent and are
		// dropped at the wire.
	}

	for _, decl := range sortedDeclarations(req.Tools) {
		schema := decl.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		var inputSchema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schema, &inputSchema); err != nil {
			return params, NewProviderError(KindInvalidRequest, "anthropic", p.model(req),
				fmt.Sprintf("invalid schema for tool %s", decl.Name), err)
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, decl.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(decl.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

// encodeAnthropicMessage converts one Content into an Anthropic message.
// Model turns become assistant messages; user, tool, and function roles all
// map to user messages per the Messages API shape.
func encodeAnthropicMessage(content *models.Content) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range content.Parts {
		switch v := part.(type) {
		case models.TextPart:
			blocks = append(blocks, anthropic.NewTextBlock(v.Text))
		case models.InlineDataPart:
			blocks = append(blocks, anthropic.NewImageBlockBase64(v.MIMEType, base64Encode(v.Data)))
		case models.FunctionCallPart:
			var input map[string]any
			if len(v.Args) > 0 {
				if err := json.Unmarshal(v.Args, &input); err != nil {
					return anthropic.MessageParam{}, NewProviderError(KindInvalidRequest, "anthropic", "",
						fmt.Sprintf("invalid args for call %s", v.Name), err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, input, v.Name))
		case models.FunctionResponsePart:
			blocks = append(blocks, anthropic.NewToolResultBlock(v.ID, string(v.Response), false))
		case models.ThinkingPart:
			blocks = append(blocks, anthropic.NewThinkingBlock(v.Signature, v.Thinking))
		}
	}
	if content.Role == models.RoleModel {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// pump translates the SSE event stream into LlmResponse frames.
func (p *AnthropicLlm) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- *models.LlmResponse, streaming bool) {
	var (
		usage       models.UsageMetadata
		finish      models.FinishReason
		aggregate   models.Content
		toolCall    *models.FunctionCallPart
		toolInput   strings.Builder
		thinkingBuf strings.Builder
		inThinking  bool
		sawTerminal bool
	)
	aggregate.Role = models.RoleModel

	emit := func(r *models.LlmResponse) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "tool_use":
				use := block.AsToolUse()
				toolCall = &models.FunctionCallPart{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			case "thinking":
				inThinking = true
				thinkingBuf.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					continue
				}
				aggregate.Parts = append(aggregate.Parts, models.TextPart{Text: delta.Text})
				if streaming {
					if !emit(&models.LlmResponse{
						Content: models.NewTextContent(models.RoleModel, delta.Text),
						Partial: true,
					}) {
						return
					}
				}
			case "thinking_delta":
				thinkingBuf.WriteString(delta.Thinking)
				if streaming && delta.Thinking != "" {
					if !emit(&models.LlmResponse{
						Content: &models.Content{Role: models.RoleModel, Parts: []models.Part{
							models.ThinkingPart{Thinking: delta.Thinking},
						}},
						Partial: true,
					}) {
						return
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inThinking {
				if thinkingBuf.Len() > 0 {
					aggregate.Parts = append(aggregate.Parts, models.ThinkingPart{Thinking: thinkingBuf.String()})
				}
				inThinking = false
			} else if toolCall != nil {
				args := toolInput.String()
				if args == "" {
					args = "{}"
				}
				toolCall.Args = json.RawMessage(args)
				aggregate.Parts = append(aggregate.Parts, *toolCall)
				toolCall = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			usage.CandidatesTokens = int(delta.Usage.OutputTokens)
			finish = anthropicFinishReason(string(delta.Delta.StopReason))

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CandidatesTokens
			sawTerminal = true
			emit(finalFrame(finish, &usage, coalesceText(&aggregate)))
			return

		case "error":
			emit(errorFrame(NewProviderError(KindProvider, "anthropic", "",
				"stream error", errors.New("anthropic stream error"))))
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(errorFrame(AsProviderError(err)))
		return
	}
	if !sawTerminal {
		// Stream ended without message_stop; normalize to a terminal frame.
		emit(finalFrame(models.FinishOther, &usage, coalesceText(&aggregate)))
	}
}

func anthropicFinishReason(stop string) models.FinishReason {
	switch stop {
	case "end_turn", "stop_sequence", "tool_use":
		return models.FinishStop
	case "max_tokens":
		return models.FinishMaxTokens
	case "refusal":
		return models.FinishSafety
	case "":
		return models.FinishUnspecified
	default:
		return models.FinishOther
	}
}
