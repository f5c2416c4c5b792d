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

	"github.com/haasonsaas/agentkit/pkg/models"
)

// GeminiLlm bridges the Gemini generateContent API over plain JSON/HTTPS.
// Streaming uses the SSE variant (alt=sse); each data line is one decoded
// chunk. Works against both the Generative Language endpoint (API key) and
// Vertex (token source).
type GeminiLlm struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	tokens       TokenSource
	defaultModel string
}

// GeminiConfig configures the Gemini bridge. At least one of APIKey or
// TokenSource must be set; when both are, APIKey is used.
type GeminiConfig struct {
	// APIKey authenticates against generativelanguage.googleapis.com.
	APIKey string

	// TokenSource authenticates against a Vertex endpoint.
	TokenSource TokenSource

	// BaseURL overrides the endpoint. Defaults to the Generative Language
	// API host.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string

	// HTTPClient overrides the transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// NewGeminiLlm creates the bridge.
func NewGeminiLlm(cfg GeminiConfig) (*GeminiLlm, error) {
	if cfg.APIKey == "" && cfg.TokenSource == nil {
		return nil, NewProviderError(KindAuth, "gemini", "", "either APIKey or TokenSource is required", nil)
	}
	base := cfg.BaseURL
	if base == "" {
		base = geminiDefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiLlm{
		httpClient:   client,
		baseURL:      strings.TrimSuffix(base, "/"),
		apiKey:       cfg.APIKey,
		tokens:       cfg.TokenSource,
		defaultModel: model,
	}, nil
}

// Name implements Llm.
func (p *GeminiLlm) Name() string { return "gemini" }

// Wire shapes. Only the fields the bridge reads and writes are declared;
// anything else the server sends is ignored.
type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	Thought          bool                `json:"thought,omitempty"`
	ThoughtSignature string              `json:"thoughtSignature,omitempty"`
	InlineData       *geminiBlob         `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResp struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any    `json:"generationConfig,omitempty"`
	Tools             []geminiToolGroup `json:"tools,omitempty"`
}

type geminiToolGroup struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GenerateContent implements Llm.
func (p *GeminiLlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	body, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	model := p.model(req)

	verb := "generateContent"
	if streaming {
		verb = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, model, verb)
	if streaming {
		url += "?alt=sse"
	}

	out := make(chan *models.LlmResponse)
	go func() {
		defer close(out)
		resp, err := p.post(ctx, url, model, body)
		if err != nil {
			sendFrame(ctx, out, errorFrame(err))
			return
		}
		defer resp.Body.Close()
		if streaming {
			p.pumpSSE(ctx, resp.Body, out, model)
		} else {
			p.pumpSingle(ctx, resp.Body, out, model)
		}
	}()
	return out, nil
}

func (p *GeminiLlm) model(req *models.LlmRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *GeminiLlm) post(ctx context.Context, url, model string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError(KindInvalidRequest, "gemini", model, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", p.apiKey)
	} else {
		tok, err := p.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(KindTransport, "gemini", model, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(payload))
		var decoded geminiResponse
		if json.Unmarshal(payload, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, &ProviderError{
			Kind:     KindFromStatus(resp.StatusCode),
			Provider: "gemini",
			Model:    model,
			Status:   resp.StatusCode,
			Message:  msg,
		}
	}
	return resp, nil
}

func (p *GeminiLlm) encodeRequest(req *models.LlmRequest) ([]byte, error) {
	wire := geminiRequest{}
	for _, content := range req.Contents {
		if content.Role == models.RoleSystem {
			sys := encodeGeminiContent(content)
			sys.Role = ""
			wire.SystemInstruction = &sys
			continue
		}
		wire.Contents = append(wire.Contents, encodeGeminiContent(content))
	}

	if cfg := req.Config; cfg != nil {
		gc := map[string]any{}
		if cfg.Temperature != nil {
			gc["temperature"] = *cfg.Temperature
		}
		if cfg.TopP != nil {
			gc["topP"] = *cfg.TopP
		}
		if cfg.TopK != nil {
			gc["topK"] = *cfg.TopK
		}
		if cfg.MaxOutputTokens != nil {
			gc["maxOutputTokens"] = *cfg.MaxOutputTokens
		}
		if len(cfg.StopSequences) > 0 {
			gc["stopSequences"] = cfg.StopSequences
		}
		if cfg.ResponseMIMEType != "" {
			gc["responseMimeType"] = cfg.ResponseMIMEType
		}
		if cfg.PresencePenalty != nil {
			gc["presencePenalty"] = *cfg.PresencePenalty
		}
		if cfg.FrequencyPenalty != nil {
			gc["frequencyPenalty"] = *cfg.FrequencyPenalty
		}
		if cfg.CandidateCount != nil {
			gc["candidateCount"] = *cfg.CandidateCount
		}
		if len(gc) > 0 {
			wire.GenerationConfig = gc
		}
	}

	if len(req.Tools) > 0 {
		group := geminiToolGroup{}
		for _, decl := range sortedDeclarations(req.Tools) {
			group.FunctionDeclarations = append(group.FunctionDeclarations, geminiFunctionDecl{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Parameters,
			})
		}
		wire.Tools = []geminiToolGroup{group}
	}
	return json.Marshal(wire)
}

func encodeGeminiContent(content *models.Content) geminiContent {
	wire := geminiContent{Role: geminiRole(content.Role)}
	for _, part := range content.Parts {
		switch v := part.(type) {
		case models.TextPart:
			wire.Parts = append(wire.Parts, geminiPart{Text: v.Text})
		case models.InlineDataPart:
			wire.Parts = append(wire.Parts, geminiPart{InlineData: &geminiBlob{
				MIMEType: v.MIMEType,
				Data:     base64Encode(v.Data),
			}})
		case models.FunctionCallPart:
			wire.Parts = append(wire.Parts, geminiPart{
				FunctionCall:     &geminiFunctionCall{ID: v.ID, Name: v.Name, Args: v.Args},
				ThoughtSignature: v.ThoughtSignature,
			})
		case models.FunctionResponsePart:
			wire.Parts = append(wire.Parts, geminiPart{FunctionResponse: &geminiFunctionResp{
				ID:       v.ID,
				Name:     v.Name,
				Response: v.Response,
			}})
		case models.ThinkingPart:
			wire.Parts = append(wire.Parts, geminiPart{
				Text:             v.Thinking,
				Thought:          true,
				ThoughtSignature: v.Signature,
			})
		}
	}
	return wire
}

func geminiRole(role models.Role) string {
	switch role {
	case models.RoleModel:
		return "model"
	default:
		// Gemini only knows user and model; tool output rides in user turns.
		return "user"
	}
}

// decodeGeminiContent is the inverse of encodeGeminiContent over the part
// kinds Gemini supports.
func decodeGeminiContent(wire geminiContent) *models.Content {
	content := &models.Content{Role: models.RoleModel}
	if wire.Role == "user" {
		content.Role = models.RoleUser
	}
	for _, part := range wire.Parts {
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			content.Parts = append(content.Parts, models.FunctionCallPart{
				ID:               part.FunctionCall.ID,
				Name:             part.FunctionCall.Name,
				Args:             args,
				ThoughtSignature: part.ThoughtSignature,
			})
		case part.FunctionResponse != nil:
			content.Parts = append(content.Parts, models.FunctionResponsePart{
				ID:       part.FunctionResponse.ID,
				Name:     part.FunctionResponse.Name,
				Response: part.FunctionResponse.Response,
			})
		case part.InlineData != nil:
			data, err := base64Decode(part.InlineData.Data)
			if err != nil {
				continue
			}
			content.Parts = append(content.Parts, models.InlineDataPart{
				MIMEType: part.InlineData.MIMEType,
				Data:     data,
			})
		case part.Thought:
			content.Parts = append(content.Parts, models.ThinkingPart{
				Thinking:  part.Text,
				Signature: part.ThoughtSignature,
			})
		case part.Text != "":
			content.Parts = append(content.Parts, models.TextPart{Text: part.Text})
		}
	}
	return content
}

func (p *GeminiLlm) pumpSSE(ctx context.Context, body io.Reader, out chan<- *models.LlmResponse, model string) {
	var (
		aggregate = models.Content{Role: models.RoleModel}
		usage     *models.UsageMetadata
		finish    models.FinishReason
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			sendFrame(ctx, out, errorFrame(NewProviderError(KindDecode, "gemini", model, "decode stream chunk", err)))
			return
		}
		if chunk.Error != nil {
			sendFrame(ctx, out, errorFrame(&ProviderError{
				Kind: KindProvider, Provider: "gemini", Model: model,
				Status: chunk.Error.Code, Message: chunk.Error.Message,
			}))
			return
		}
		if chunk.UsageMetadata != nil {
			usage = geminiUsage(chunk)
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.FinishReason != "" {
			finish = geminiFinishReason(cand.FinishReason)
		}
		decoded := decodeGeminiContent(cand.Content)
		if len(decoded.Parts) > 0 {
			aggregate.Parts = append(aggregate.Parts, decoded.Parts...)
			if !sendFrame(ctx, out, &models.LlmResponse{Content: decoded, Partial: true}) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		sendFrame(ctx, out, errorFrame(NewProviderError(KindTransport, "gemini", model, "stream read", err)))
		return
	}
	sendFrame(ctx, out, finalFrame(finish, usage, coalesceText(&aggregate)))
}

func (p *GeminiLlm) pumpSingle(ctx context.Context, body io.Reader, out chan<- *models.LlmResponse, model string) {
	var resp geminiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		sendFrame(ctx, out, errorFrame(NewProviderError(KindDecode, "gemini", model, "decode response", err)))
		return
	}
	if resp.Error != nil {
		sendFrame(ctx, out, errorFrame(&ProviderError{
			Kind: KindProvider, Provider: "gemini", Model: model,
			Status: resp.Error.Code, Message: resp.Error.Message,
		}))
		return
	}
	var content *models.Content
	finish := models.FinishUnspecified
	if len(resp.Candidates) > 0 {
		content = decodeGeminiContent(resp.Candidates[0].Content)
		finish = geminiFinishReason(resp.Candidates[0].FinishReason)
	}
	sendFrame(ctx, out, finalFrame(finish, geminiUsage(resp), content))
}

func geminiUsage(resp geminiResponse) *models.UsageMetadata {
	if resp.UsageMetadata == nil {
		return nil
	}
	usage := &models.UsageMetadata{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CandidatesTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      resp.UsageMetadata.TotalTokenCount,
	}
	if n := resp.UsageMetadata.ThoughtsTokenCount; n > 0 {
		usage.ThinkingTokens = &n
	}
	return usage
}

func geminiFinishReason(reason string) models.FinishReason {
	switch reason {
	case "STOP":
		return models.FinishStop
	case "MAX_TOKENS":
		return models.FinishMaxTokens
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return models.FinishSafety
	case "":
		return models.FinishUnspecified
	default:
		return models.FinishOther
	}
}
