package models

import (
	"encoding/json"
	"time"
)

// EventActions is the bundle of side-effect declarations attached to an
// event. Tools populate it through their call context; the engine merges the
// bundles of a turn and the session store applies StateDelta on append.
type EventActions struct {
	// StateDelta maps state keys to their new JSON values. Keys may carry the
	// app:/user:/temp: scope prefixes; temp: entries are never persisted.
	StateDelta map[string]json.RawMessage `json:"state_delta,omitempty"`

	// ArtifactDelta maps artifact names to the revision written this event.
	ArtifactDelta map[string]int `json:"artifact_delta,omitempty"`

	// TransferToAgent names a sub-agent that should take over the invocation.
	TransferToAgent string `json:"transfer_to_agent,omitempty"`

	// Escalate asks the parent agent to handle the situation.
	Escalate bool `json:"escalate,omitempty"`

	// SkipSummarization tells the engine not to summarize the tool result.
	SkipSummarization bool `json:"skip_summarization,omitempty"`

	// EndInvocation stops the invocation after the current step.
	EndInvocation bool `json:"end_invocation,omitempty"`
}

// Merge folds other into a, returning the merged bundle. State deltas union
// with last-write-wins, boolean flags OR, and the first non-empty
// TransferToAgent sticks. A conflicting transfer target is reported through
// the returned conflict name so the caller can log it; it is not an error.
func (a EventActions) Merge(other EventActions) (EventActions, string) {
	conflict := ""
	if len(other.StateDelta) > 0 {
		if a.StateDelta == nil {
			a.StateDelta = make(map[string]json.RawMessage, len(other.StateDelta))
		}
		for k, v := range other.StateDelta {
			a.StateDelta[k] = v
		}
	}
	if len(other.ArtifactDelta) > 0 {
		if a.ArtifactDelta == nil {
			a.ArtifactDelta = make(map[string]int, len(other.ArtifactDelta))
		}
		for k, v := range other.ArtifactDelta {
			a.ArtifactDelta[k] = v
		}
	}
	if other.TransferToAgent != "" {
		if a.TransferToAgent == "" {
			a.TransferToAgent = other.TransferToAgent
		} else if a.TransferToAgent != other.TransferToAgent {
			conflict = other.TransferToAgent
		}
	}
	a.Escalate = a.Escalate || other.Escalate
	a.SkipSummarization = a.SkipSummarization || other.SkipSummarization
	a.EndInvocation = a.EndInvocation || other.EndInvocation
	return a, conflict
}

// Event is one record on an invocation's output stream: an LlmResponse plus
// the actions accumulated while producing it. Events are persisted to the
// session log in emission order.
type Event struct {
	InvocationID string       `json:"invocation_id"`
	Author       string       `json:"author,omitempty"`
	LlmResponse  LlmResponse  `json:"llm_response"`
	Actions      EventActions `json:"actions"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NewEvent builds an event wrapping the given response with default actions.
func NewEvent(invocationID, author string, resp LlmResponse) *Event {
	return &Event{InvocationID: invocationID, Author: author, LlmResponse: resp}
}

// IsFinal reports whether this event terminates its invocation stream.
func (e *Event) IsFinal() bool {
	return e.LlmResponse.EndOfTurn() && len(e.PendingFunctionCalls()) == 0
}

// PendingFunctionCalls returns the function calls carried by this event.
func (e *Event) PendingFunctionCalls() []FunctionCallPart {
	return e.LlmResponse.Content.FunctionCalls()
}

// eventEnvelope is the persisted wire form. Timestamps are milliseconds
// since epoch so the envelope is stable across store backends.
type eventEnvelope struct {
	InvocationID string       `json:"invocation_id"`
	Author       string       `json:"author,omitempty"`
	LlmResponse  LlmResponse  `json:"llm_response"`
	Actions      EventActions `json:"actions"`
	TimestampMS  int64        `json:"timestamp"`
}

// MarshalJSON encodes the persisted envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventEnvelope{
		InvocationID: e.InvocationID,
		Author:       e.Author,
		LlmResponse:  e.LlmResponse,
		Actions:      e.Actions,
		TimestampMS:  e.Timestamp.UnixMilli(),
	})
}

// UnmarshalJSON decodes the persisted envelope.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	e.InvocationID = env.InvocationID
	e.Author = env.Author
	e.LlmResponse = env.LlmResponse
	e.Actions = env.Actions
	e.Timestamp = time.UnixMilli(env.TimestampMS).UTC()
	return nil
}
