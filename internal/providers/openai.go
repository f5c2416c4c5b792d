package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// OpenAILlm bridges the OpenAI chat completions API. The same bridge serves
// any OpenAI-compatible endpoint (the mistral.rs local server reuses it with
// a different base URL).
type OpenAILlm struct {
	client       *openai.Client
	name         string
	defaultModel string
}

// OpenAIConfig configures the OpenAI bridge.
type OpenAIConfig struct {
	// APIKey authenticates requests. Optional for local servers.
	APIKey string

	// BaseURL overrides the endpoint for compatible servers.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
}

// NewOpenAILlm creates the bridge.
func NewOpenAILlm(cfg OpenAIConfig) *OpenAILlm {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAILlm{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         "openai",
		defaultModel: model,
	}
}

// Name implements Llm.
func (p *OpenAILlm) Name() string { return p.name }

// GenerateContent implements Llm.
func (p *OpenAILlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	out := make(chan *models.LlmResponse)
	go func() {
		defer close(out)
		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			sendFrame(ctx, out, errorFrame(p.wrap(err, chatReq.Model)))
			return
		}
		defer stream.Close()
		p.pump(ctx, stream, out, chatReq.Model, streaming)
	}()
	return out, nil
}

func (p *OpenAILlm) model(req *models.LlmRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAILlm) buildRequest(req *models.LlmRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         p.model(req),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	for _, content := range req.Contents {
		msgs, err := encodeOpenAIMessages(content)
		if err != nil {
			return chatReq, err
		}
		chatReq.Messages = append(chatReq.Messages, msgs...)
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			chatReq.Temperature = float32(*cfg.Temperature)
		}
		if cfg.TopP != nil {
			chatReq.TopP = float32(*cfg.TopP)
		}
		if cfg.MaxOutputTokens != nil {
			chatReq.MaxCompletionTokens = *cfg.MaxOutputTokens
		}
		if len(cfg.StopSequences) > 0 {
			chatReq.Stop = cfg.StopSequences
		}
		if cfg.PresencePenalty != nil {
			chatReq.PresencePenalty = float32(*cfg.PresencePenalty)
		}
		if cfg.FrequencyPenalty != nil {
			chatReq.FrequencyPenalty = float32(*cfg.FrequencyPenalty)
		}
		if cfg.CandidateCount != nil {
			chatReq.N = *cfg.CandidateCount
		}
		if cfg.ResponseMIMEType == "application/json" {
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
		// top_k has no OpenAI equivalent and is dropped at the wire.
	}

	for _, decl := range sortedDeclarations(req.Tools) {
		params := decl.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		})
	}
	return chatReq, nil
}

// encodeOpenAIMessages converts one Content into chat messages. Function
// responses become their own "tool" role messages; everything else folds into
// a single message for the content's role.
func encodeOpenAIMessages(content *models.Content) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	msg := openai.ChatCompletionMessage{Role: openAIRole(content.Role)}
	hasBody := false

	for _, part := range content.Parts {
		switch v := part.(type) {
		case models.TextPart:
			msg.Content += v.Text
			hasBody = true
		case models.InlineDataPart:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", v.MIMEType, base64Encode(v.Data)),
				},
			})
			hasBody = true
		case models.FunctionCallPart:
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   v.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      v.Name,
					Arguments: string(v.Args),
				},
			})
			hasBody = true
		case models.FunctionResponsePart:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(v.Response),
				ToolCallID: v.ID,
			})
		case models.ThinkingPart:
			// Model-internal; OpenAI has no wire slot for replayed thinking.
		}
	}
	// MultiContent and Content are mutually exclusive on the wire.
	if len(msg.MultiContent) > 0 && msg.Content != "" {
		msg.MultiContent = append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		}}, msg.MultiContent...)
		msg.Content = ""
	}
	if hasBody {
		out = append([]openai.ChatCompletionMessage{msg}, out...)
	}
	return out, nil
}

func openAIRole(role models.Role) string {
	switch role {
	case models.RoleModel:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	case models.RoleTool, models.RoleFunction:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func (p *OpenAILlm) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- *models.LlmResponse, model string, streaming bool) {
	var (
		aggregate models.Content
		usage     *models.UsageMetadata
		finish    models.FinishReason
		toolCalls = map[int]*models.FunctionCallPart{}
		toolArgs  = map[int]string{}
	)
	aggregate.Role = models.RoleModel

	flushTools := func() {
		idxs := make([]int, 0, len(toolCalls))
		for i := range toolCalls {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			call := toolCalls[i]
			args := toolArgs[i]
			if args == "" {
				args = "{}"
			}
			call.Args = json.RawMessage(args)
			aggregate.Parts = append(aggregate.Parts, *call)
		}
		toolCalls = map[int]*models.FunctionCallPart{}
		toolArgs = map[int]string{}
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flushTools()
			sendFrame(ctx, out, finalFrame(finish, usage, coalesceText(&aggregate)))
			return
		}
		if err != nil {
			sendFrame(ctx, out, errorFrame(p.wrap(err, model)))
			return
		}
		if resp.Usage != nil {
			usage = &models.UsageMetadata{
				PromptTokens:     resp.Usage.PromptTokens,
				CandidatesTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			aggregate.Parts = append(aggregate.Parts, models.TextPart{Text: choice.Delta.Content})
			if streaming {
				if !sendFrame(ctx, out, &models.LlmResponse{
					Content: models.NewTextContent(models.RoleModel, choice.Delta.Content),
					Partial: true,
				}) {
					return
				}
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &models.FunctionCallPart{}
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			toolArgs[idx] += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			finish = openAIFinishReason(choice.FinishReason)
		}
	}
}

func openAIFinishReason(reason openai.FinishReason) models.FinishReason {
	switch reason {
	case openai.FinishReasonStop, openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return models.FinishStop
	case openai.FinishReasonLength:
		return models.FinishMaxTokens
	case openai.FinishReasonContentFilter:
		return models.FinishSafety
	default:
		return models.FinishOther
	}
}

func (p *OpenAILlm) wrap(err error, model string) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Kind:     KindFromStatus(apiErr.HTTPStatusCode),
			Provider: p.name,
			Model:    model,
			Status:   apiErr.HTTPStatusCode,
			Message:  apiErr.Message,
			Cause:    err,
		}
	}
	perr := AsProviderError(err)
	perr.Provider = p.name
	perr.Model = model
	return perr
}

// sendFrame delivers a frame unless the consumer went away.
func sendFrame(ctx context.Context, out chan<- *models.LlmResponse, r *models.LlmResponse) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
