package models

import "encoding/json"

// FinishReason explains why a model stopped generating.
type FinishReason string

const (
	// FinishUnspecified is the zero value: the provider has not reported a
	// finish reason yet (mid-stream frames).
	FinishUnspecified FinishReason = ""

	// FinishStop is a clean end of turn.
	FinishStop FinishReason = "stop"

	// FinishMaxTokens means the output token limit was reached.
	FinishMaxTokens FinishReason = "max_tokens"

	// FinishSafety means the provider's safety system ended the turn.
	FinishSafety FinishReason = "safety"

	// FinishOther covers every provider code that does not map cleanly.
	FinishOther FinishReason = "other"
)

// ToolDeclaration describes a tool to the model: a name, a human-readable
// description, and a JSON Schema for its parameters.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GenerateConfig enumerates the recognized generation options. Pointer fields
// distinguish "unset" from an explicit zero. Provider bridges map these by
// name and drop anything the provider does not understand.
type GenerateConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	MaxOutputTokens  *int     `json:"max_output_tokens,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
	ResponseMIMEType string   `json:"response_mime_type,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	CandidateCount   *int     `json:"candidate_count,omitempty"`
}

// LlmRequest is the provider-neutral request shape. Tools are keyed by name;
// duplicate names are rejected upstream at agent build time.
type LlmRequest struct {
	Model    string                     `json:"model"`
	Contents []*Content                 `json:"contents"`
	Config   *GenerateConfig            `json:"config,omitempty"`
	Tools    map[string]ToolDeclaration `json:"tools,omitempty"`
}

// UsageMetadata reports token accounting for one response. Optional fields
// are pointers: a provider that does not report a count leaves it absent
// rather than zero.
type UsageMetadata struct {
	PromptTokens              int  `json:"prompt_tokens"`
	CandidatesTokens          int  `json:"candidates_tokens"`
	TotalTokens               int  `json:"total_tokens"`
	ThinkingTokens            *int `json:"thinking_tokens,omitempty"`
	CacheReadInputTokens      *int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens  *int `json:"cache_creation_input_tokens,omitempty"`
	AudioInputTokens          *int `json:"audio_input_tokens,omitempty"`
	AudioOutputTokens         *int `json:"audio_output_tokens,omitempty"`
}

// LlmResponse is one frame of a provider stream.
//
// Streaming contract: frames with Partial set are delta chunks whose text
// parts may be concatenated by consumers. At most one frame per turn carries
// TurnComplete, and it is the final frame. Interrupted marks a turn the
// client aborted mid-flight.
type LlmResponse struct {
	Content       *Content       `json:"content,omitempty"`
	UsageMetadata *UsageMetadata `json:"usage_metadata,omitempty"`
	FinishReason  FinishReason   `json:"finish_reason,omitempty"`
	Partial       bool           `json:"partial,omitempty"`
	TurnComplete  bool           `json:"turn_complete,omitempty"`
	Interrupted   bool           `json:"interrupted,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// IsError reports whether the frame carries a provider error.
func (r *LlmResponse) IsError() bool {
	return r != nil && r.ErrorCode != ""
}

// EndOfTurn reports whether the frame terminates its turn: either the
// provider said so, or it carries an error.
func (r *LlmResponse) EndOfTurn() bool {
	return r != nil && (r.TurnComplete || r.IsError())
}
