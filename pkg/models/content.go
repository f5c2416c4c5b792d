// Package models defines the wire-stable data types shared across the
// agentkit runtime: content parts, LLM requests and responses, events, and
// the action bundles tools use to declare side effects.
//
// Everything in this package is transport-neutral. Provider bridges translate
// these types to and from provider wire formats; the session stores persist
// them verbatim.
package models

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a Content entry.
type Role string

const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleSystem   Role = "system"
	RoleTool     Role = "tool"
	RoleFunction Role = "function"
)

// Content is one entry in a conversation: a role plus an ordered list of parts.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single-part text content for the given role.
func NewTextContent(role Role, text string) *Content {
	return &Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates the text of all TextPart entries.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns all FunctionCallPart entries in order.
func (c *Content) FunctionCalls() []FunctionCallPart {
	if c == nil {
		return nil
	}
	var calls []FunctionCallPart
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// Part is one tagged element of a Content's parts list. It is a closed sum:
// the only implementations live in this package, and consumers are expected
// to switch exhaustively over them.
type Part interface {
	partKind() string
}

// TextPart carries plain text.
type TextPart struct {
	Text string `json:"text"`
}

// InlineDataPart carries a binary payload with its IANA MIME type. The bytes
// are base64-encoded at the wire for JSON transports.
type InlineDataPart struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// FunctionCallPart is a model-emitted request to execute a tool. ID is stable
// across the call/response pair.
type FunctionCallPart struct {
	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name"`
	Args             json.RawMessage `json:"args"`
	ThoughtSignature string          `json:"thought_signature,omitempty"`
}

// FunctionResponsePart carries a tool's result back to the model.
type FunctionResponsePart struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// ThinkingPart surfaces model-internal reasoning for UI display.
type ThinkingPart struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (TextPart) partKind() string             { return partText }
func (InlineDataPart) partKind() string       { return partInlineData }
func (FunctionCallPart) partKind() string     { return partFunctionCall }
func (FunctionResponsePart) partKind() string { return partFunctionResponse }
func (ThinkingPart) partKind() string         { return partThinking }

const (
	partText             = "text"
	partInlineData       = "inline_data"
	partFunctionCall     = "function_call"
	partFunctionResponse = "function_response"
	partThinking         = "thinking"
)

type partEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the content with each part wrapped in a type-tagged
// envelope so heterogeneous parts survive a round trip.
func (c Content) MarshalJSON() ([]byte, error) {
	envs := make([]partEnvelope, 0, len(c.Parts))
	for _, p := range c.Parts {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		envs = append(envs, partEnvelope{Type: p.partKind(), Data: data})
	}
	return json.Marshal(struct {
		Role  Role           `json:"role"`
		Parts []partEnvelope `json:"parts"`
	}{Role: c.Role, Parts: envs})
}

// UnmarshalJSON decodes the type-tagged part envelopes produced by
// MarshalJSON. Unknown part types are an error: new part kinds require
// explicit handling everywhere.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  Role           `json:"role"`
		Parts []partEnvelope `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Role = raw.Role
	c.Parts = c.Parts[:0]
	for _, env := range raw.Parts {
		part, err := decodePart(env)
		if err != nil {
			return err
		}
		c.Parts = append(c.Parts, part)
	}
	return nil
}

func decodePart(env partEnvelope) (Part, error) {
	switch env.Type {
	case partText:
		var p TextPart
		return p, json.Unmarshal(env.Data, &p)
	case partInlineData:
		var p InlineDataPart
		return p, json.Unmarshal(env.Data, &p)
	case partFunctionCall:
		var p FunctionCallPart
		return p, json.Unmarshal(env.Data, &p)
	case partFunctionResponse:
		var p FunctionResponsePart
		return p, json.Unmarshal(env.Data, &p)
	case partThinking:
		var p ThinkingPart
		return p, json.Unmarshal(env.Data, &p)
	default:
		return nil, fmt.Errorf("models: unknown part type %q", env.Type)
	}
}
