package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// BedrockLlm bridges AWS Bedrock via the Converse streaming API. Unlike the
// JSON transports, multimodal payloads ride natively in the binary event
// stream with no base64 step.
type BedrockLlm struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures the Bedrock bridge. With no explicit credentials
// the default AWS chain (env, profile, instance role) applies.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// NewBedrockLlm creates the bridge.
func NewBedrockLlm(ctx context.Context, cfg BedrockConfig) (*BedrockLlm, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewProviderError(KindAuth, "bedrock", "", "load AWS config", err)
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "anthropic.claude-sonnet-4-20250514-v1:0"
	}
	return &BedrockLlm{client: bedrockruntime.NewFromConfig(awsCfg), defaultModel: model}, nil
}

// Name implements Llm.
func (p *BedrockLlm) Name() string { return "bedrock" }

// GenerateContent implements Llm.
func (p *BedrockLlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}
	model := aws.ToString(input.ModelId)

	out := make(chan *models.LlmResponse)
	go func() {
		defer close(out)
		stream, err := p.client.ConverseStream(ctx, input)
		if err != nil {
			perr := AsProviderError(err)
			perr.Provider = "bedrock"
			perr.Model = model
			sendFrame(ctx, out, errorFrame(perr))
			return
		}
		p.pump(ctx, stream, out, model, streaming)
	}()
	return out, nil
}

func (p *BedrockLlm) buildInput(req *models.LlmRequest) (*bedrockruntime.ConverseStreamInput, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(model)}

	for _, content := range req.Contents {
		if content.Role == models.RoleSystem {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: content.Text()})
			continue
		}
		msg, err := encodeBedrockMessage(content)
		if err != nil {
			return nil, err
		}
		input.Messages = append(input.Messages, msg)
	}

	if cfg := req.Config; cfg != nil {
		inference := &types.InferenceConfiguration{}
		set := false
		if cfg.Temperature != nil {
			t := float32(*cfg.Temperature)
			inference.Temperature = &t
			set = true
		}
		if cfg.TopP != nil {
			tp := float32(*cfg.TopP)
			inference.TopP = &tp
			set = true
		}
		if cfg.MaxOutputTokens != nil {
			inference.MaxTokens = aws.Int32(int32(*cfg.MaxOutputTokens))
			set = true
		}
		if len(cfg.StopSequences) > 0 {
			inference.StopSequences = cfg.StopSequences
			set = true
		}
		if set {
			input.InferenceConfig = inference
		}
		// top_k and the penalty fields have no Converse mapping; dropped.
	}

	if len(req.Tools) > 0 {
		toolCfg := &types.ToolConfiguration{}
		for _, decl := range sortedDeclarations(req.Tools) {
			var schema any
			if len(decl.Parameters) > 0 {
				if err := json.Unmarshal(decl.Parameters, &schema); err != nil {
					return nil, NewProviderError(KindInvalidRequest, "bedrock", model,
						fmt.Sprintf("invalid schema for tool %s", decl.Name), err)
				}
			} else {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			toolCfg.Tools = append(toolCfg.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(decl.Name),
					Description: aws.String(decl.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
				},
			})
		}
		input.ToolConfig = toolCfg
	}
	return input, nil
}

func encodeBedrockMessage(content *models.Content) (types.Message, error) {
	var blocks []types.ContentBlock
	for _, part := range content.Parts {
		switch v := part.(type) {
		case models.TextPart:
			blocks = append(blocks, &types.ContentBlockMemberText{Value: v.Text})
		case models.InlineDataPart:
			format, ok := bedrockImageFormat(v.MIMEType)
			if !ok {
				continue
			}
			blocks = append(blocks, &types.ContentBlockMemberImage{
				Value: types.ImageBlock{
					Format: format,
					Source: &types.ImageSourceMemberBytes{Value: v.Data},
				},
			})
		case models.FunctionCallPart:
			var inputDoc any
			if err := json.Unmarshal(v.Args, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			blocks = append(blocks, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(v.ID),
					Name:      aws.String(v.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		case models.FunctionResponsePart:
			blocks = append(blocks, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(v.ID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: string(v.Response)},
					},
				},
			})
		case models.ThinkingPart:
			// Not replayed to Converse.
		}
	}
	role := types.ConversationRoleUser
	if content.Role == models.RoleModel {
		role = types.ConversationRoleAssistant
	}
	return types.Message{Role: role, Content: blocks}, nil
}

func bedrockImageFormat(mimeType string) (types.ImageFormat, bool) {
	switch mimeType {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func (p *BedrockLlm) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- *models.LlmResponse, model string, streaming bool) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var (
		aggregate = models.Content{Role: models.RoleModel}
		usage     *models.UsageMetadata
		finish    models.FinishReason
		toolCall  *models.FunctionCallPart
		toolInput string
	)

	finishTool := func() {
		if toolCall == nil {
			return
		}
		if toolInput == "" {
			toolInput = "{}"
		}
		toolCall.Args = json.RawMessage(toolInput)
		aggregate.Parts = append(aggregate.Parts, *toolCall)
		toolCall = nil
		toolInput = ""
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				finishTool()
				if err := eventStream.Err(); err != nil {
					perr := AsProviderError(err)
					perr.Provider = "bedrock"
					perr.Model = model
					sendFrame(ctx, out, errorFrame(perr))
					return
				}
				sendFrame(ctx, out, finalFrame(finish, usage, coalesceText(&aggregate)))
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolCall = &models.FunctionCallPart{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput = ""
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value == "" {
						continue
					}
					aggregate.Parts = append(aggregate.Parts, models.TextPart{Text: delta.Value})
					if streaming {
						if !sendFrame(ctx, out, &models.LlmResponse{
							Content: models.NewTextContent(models.RoleModel, delta.Value),
							Partial: true,
						}) {
							return
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput += *delta.Value.Input
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				finishTool()
			case *types.ConverseStreamOutputMemberMessageStop:
				finish = bedrockFinishReason(ev.Value.StopReason)
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = &models.UsageMetadata{
						PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CandidatesTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
						TotalTokens:      int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
					}
				}
			}
		}
	}
}

func bedrockFinishReason(reason types.StopReason) models.FinishReason {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence, types.StopReasonToolUse:
		return models.FinishStop
	case types.StopReasonMaxTokens:
		return models.FinishMaxTokens
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return models.FinishSafety
	case "":
		return models.FinishUnspecified
	default:
		return models.FinishOther
	}
}
