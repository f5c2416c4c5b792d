package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// MistralRsLlm bridges a local mistral.rs inference server. The server speaks
// the OpenAI chat protocol in serve mode, so the bridge delegates wire
// handling to the OpenAI bridge with a local base URL; this type owns model
// selection and the generation defaults derived from the config.
type MistralRsLlm struct {
	inner    *OpenAILlm
	cfg      MistralRsConfig
	modelTag string
}

// QuantizationLevel selects an in-situ quantization applied at model load.
type QuantizationLevel string

const (
	QuantNone QuantizationLevel = ""
	Quant4K   QuantizationLevel = "q4k"
	Quant5K   QuantizationLevel = "q5k"
	Quant8_0  QuantizationLevel = "q8_0"
)

// Device selects the inference device.
type Device string

const (
	DeviceAuto  Device = "auto"
	DeviceCPU   Device = "cpu"
	DeviceCUDA  Device = "cuda"
	DeviceMetal Device = "metal"
)

// ModelSource names where the model weights come from: a Hugging Face repo
// id or a local path.
type ModelSource struct {
	HuggingFace string `yaml:"huggingface,omitempty"`
	LocalPath   string `yaml:"local_path,omitempty"`
}

func (s ModelSource) empty() bool { return s.HuggingFace == "" && s.LocalPath == "" }

func (s ModelSource) tag() string {
	if s.HuggingFace != "" {
		return s.HuggingFace
	}
	return s.LocalPath
}

// AdapterConfig loads a LoRA or X-LoRA adapter on top of the base model.
type AdapterConfig struct {
	Kind string `yaml:"kind"` // "lora" or "xlora"
	ID   string `yaml:"id"`
}

// MistralRsConfig enumerates the recognized local-inference options. Unknown
// options are rejected at build; Validate is the single gate.
//
// ISQ, Device, PagedAttention, NumCtx, Adapter and MCPClient are checked by
// Validate only. The bridge talks to an already running server and does not
// send them to it; only the model tag and the generation defaults reach the
// request.
type MistralRsConfig struct {
	// ModelSource names the weights (required).
	ModelSource ModelSource

	// ISQ quantizes the model during load instead of using a pre-quantized
	// artifact.
	ISQ QuantizationLevel

	// Device selects where inference runs.
	Device Device

	// PagedAttention enables memory-efficient attention.
	PagedAttention bool

	// Generation defaults applied when the request config leaves them unset.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// NumCtx is the context window to allocate.
	NumCtx int

	// Adapter optionally loads a fine-tuned adapter.
	Adapter *AdapterConfig

	// MCPClient optionally points the server at MCP tool servers.
	MCPClient *MCPClientRef

	// BaseURL of the running server. Defaults to the local serve port.
	BaseURL string
}

// MCPClientRef points at an MCP client configuration file consumed by the
// inference server.
type MCPClientRef struct {
	ConfigPath string `yaml:"config_path"`
}

// Validate checks the configuration. Everything NewMistralRsLlm rejects is
// rejected here.
func (c *MistralRsConfig) Validate() error {
	if c.ModelSource.empty() {
		return fmt.Errorf("mistralrs: model_source is required")
	}
	if c.ModelSource.HuggingFace != "" && c.ModelSource.LocalPath != "" {
		return fmt.Errorf("mistralrs: model_source must name either a repo or a path, not both")
	}
	switch c.ISQ {
	case QuantNone, Quant4K, Quant5K, Quant8_0:
	default:
		return fmt.Errorf("mistralrs: unknown isq level %q", c.ISQ)
	}
	switch c.Device {
	case "", DeviceAuto, DeviceCPU, DeviceCUDA, DeviceMetal:
	default:
		return fmt.Errorf("mistralrs: unknown device %q", c.Device)
	}
	if c.NumCtx < 0 {
		return fmt.Errorf("mistralrs: num_ctx must be non-negative")
	}
	if c.Adapter != nil {
		switch c.Adapter.Kind {
		case "lora", "xlora":
		default:
			return fmt.Errorf("mistralrs: unknown adapter kind %q", c.Adapter.Kind)
		}
		if c.Adapter.ID == "" {
			return fmt.Errorf("mistralrs: adapter id is required")
		}
	}
	if c.MCPClient != nil && strings.TrimSpace(c.MCPClient.ConfigPath) == "" {
		return fmt.Errorf("mistralrs: mcp_client config_path is required")
	}
	return nil
}

// NewMistralRsLlm validates the config and builds the bridge.
func NewMistralRsLlm(cfg MistralRsConfig) (*MistralRsLlm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:1234/v1"
	}
	inner := NewOpenAILlm(OpenAIConfig{BaseURL: base, DefaultModel: cfg.ModelSource.tag()})
	inner.name = "mistralrs"
	return &MistralRsLlm{inner: inner, cfg: cfg, modelTag: cfg.ModelSource.tag()}, nil
}

// Name implements Llm.
func (p *MistralRsLlm) Name() string { return "mistralrs" }

// GenerateContent implements Llm. The config's generation defaults fill any
// request fields left unset before delegating.
func (p *MistralRsLlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	effective := *req
	if effective.Model == "" {
		effective.Model = p.modelTag
	}
	cfg := models.GenerateConfig{}
	if effective.Config != nil {
		cfg = *effective.Config
	}
	if cfg.Temperature == nil {
		cfg.Temperature = p.cfg.Temperature
	}
	if cfg.TopP == nil {
		cfg.TopP = p.cfg.TopP
	}
	if cfg.MaxOutputTokens == nil {
		cfg.MaxOutputTokens = p.cfg.MaxTokens
	}
	effective.Config = &cfg
	return p.inner.GenerateContent(ctx, &effective, streaming)
}
