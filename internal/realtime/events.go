package realtime

import "encoding/json"

// ServerEvent is one event consumed from a realtime session. It is a closed
// sum: new event kinds require explicit handling everywhere.
type ServerEvent interface {
	serverEvent()
}

// SessionCreated signals the transport negotiated successfully.
type SessionCreated struct {
	SessionID string
}

// AudioDelta carries a chunk of model audio, base64 PCM16 at the wire.
type AudioDelta struct {
	Data   []byte
	Format AudioFormat
	ItemID string
}

// TextDelta carries incremental model text.
type TextDelta struct {
	Text   string
	ItemID string
}

// Transcript carries a transcription of model or user audio.
type Transcript struct {
	Text   string
	ItemID string
}

// SpeechStarted marks voice activity onset in the input stream.
type SpeechStarted struct {
	AudioMS int
}

// SpeechStopped marks voice activity end in the input stream.
type SpeechStopped struct {
	AudioMS int
}

// ToolCall asks the client to execute a function and send the result back
// over the channel.
type ToolCall struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// ResponseDone marks the end of a response turn.
type ResponseDone struct{}

// ErrorEvent carries a session error.
type ErrorEvent struct {
	Kind    string
	Message string
}

func (SessionCreated) serverEvent() {}
func (AudioDelta) serverEvent()     {}
func (TextDelta) serverEvent()      {}
func (Transcript) serverEvent()     {}
func (SpeechStarted) serverEvent()  {}
func (SpeechStopped) serverEvent()  {}
func (ToolCall) serverEvent()       {}
func (ResponseDone) serverEvent()   {}
func (ErrorEvent) serverEvent()     {}

// ToolResponse is the client's answer to a ToolCall.
type ToolResponse struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name,omitempty"`
	Output json.RawMessage `json:"output"`
}

// TurnDetection configures server-side voice activity detection. Nil means
// the client drives turns with CommitAudio/CreateResponse.
type TurnDetection struct {
	// SilenceDurationMS of trailing silence that ends a user turn.
	SilenceDurationMS int `yaml:"silence_duration_ms"`

	// PrefixPaddingMS of audio retained before detected speech.
	PrefixPaddingMS int `yaml:"prefix_padding_ms"`

	// Threshold is the activation level in [0, 1].
	Threshold float64 `yaml:"threshold"`
}

// Config configures a realtime session. Unknown options are rejected at
// build by Validate.
type Config struct {
	// Instruction is the session's system prompt.
	Instruction string

	// Voice selects the synthesis voice, when the provider offers several.
	Voice string

	// InputAudioFormat for client audio. Required.
	InputAudioFormat AudioFormat

	// OutputAudioFormat the model should produce. Required.
	OutputAudioFormat AudioFormat

	// TurnDetection enables server VAD; nil leaves turns client-driven.
	TurnDetection *TurnDetection

	// Tools declared to the model for the session.
	Tools []ToolDeclaration
}

// ToolDeclaration mirrors the engine's tool declaration for the realtime
// wire.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validSampleRate(c.InputAudioFormat); err != nil {
		return err
	}
	if err := validSampleRate(c.OutputAudioFormat); err != nil {
		return err
	}
	if td := c.TurnDetection; td != nil {
		if td.Threshold < 0 || td.Threshold > 1 {
			return &ConfigError{Message: "turn_detection threshold must be in [0, 1]"}
		}
		if td.SilenceDurationMS < 0 || td.PrefixPaddingMS < 0 {
			return &ConfigError{Message: "turn_detection durations must be non-negative"}
		}
	}
	seen := map[string]bool{}
	for _, t := range c.Tools {
		if t.Name == "" {
			return &ConfigError{Message: "tool name is required"}
		}
		if seen[t.Name] {
			return &ConfigError{Message: "duplicate tool " + t.Name}
		}
		seen[t.Name] = true
	}
	return nil
}

func validSampleRate(f AudioFormat) error {
	switch f.SampleRate {
	case 16000, 24000, 48000:
		return nil
	default:
		return &ConfigError{Message: "unsupported sample rate"}
	}
}

// ConfigError reports invalid realtime construction inputs.
type ConfigError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string { return "realtime: " + e.Message }
