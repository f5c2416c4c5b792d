package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/agentkit/internal/tools"
	"github.com/haasonsaas/agentkit/pkg/models"
)

// scriptedLlm replays one scripted turn per GenerateContent call.
type scriptedLlm struct {
	turns []models.LlmResponse
	calls int
	reqs  []*models.LlmRequest
}

func (s *scriptedLlm) Name() string { return "scripted" }

func (s *scriptedLlm) GenerateContent(ctx context.Context, req *models.LlmRequest, streaming bool) (<-chan *models.LlmResponse, error) {
	s.reqs = append(s.reqs, req)
	idx := s.calls
	if idx >= len(s.turns) {
		idx = len(s.turns) - 1
	}
	turn := s.turns[idx]
	s.calls++
	ch := make(chan *models.LlmResponse, 1)
	ch <- &turn
	close(ch)
	return ch, nil
}

func functionCallTurn(name string, args string) models.LlmResponse {
	return models.LlmResponse{
		Content: &models.Content{Role: models.RoleModel, Parts: []models.Part{
			models.FunctionCallPart{ID: "call_" + name, Name: name, Args: json.RawMessage(args)},
		}},
		FinishReason: models.FinishStop,
		TurnComplete: true,
	}
}

func textTurn(text string) models.LlmResponse {
	return models.LlmResponse{
		Content:      models.NewTextContent(models.RoleModel, text),
		FinishReason: models.FinishStop,
		TurnComplete: true,
	}
}

func runToCompletion(t *testing.T, a Agent, ctx *InvocationContext) []*models.Event {
	t.Helper()
	stream, err := a.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var events []*models.Event
	for ev := range stream {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("stream must emit at least a terminal event")
	}
	return events
}

func newTestContext(a Agent) *InvocationContext {
	return NewInvocationContext(InvocationParams{
		Identity: Identity{
			InvocationID: "inv-1",
			UserID:       "user-123",
			AppName:      "test-app",
			SessionID:    "session-456",
		},
		UserContent: models.NewTextContent(models.RoleUser, "call tool"),
		Agent:       a,
	})
}

func TestSingleToolTurn(t *testing.T) {
	var capturedUser, capturedSession string
	tool := &tools.Func{
		ToolName:        "test_tool",
		ToolDescription: "Test tool",
		Fn: func(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
			capturedUser = ctx.UserID()
			capturedSession = ctx.SessionID()
			return json.RawMessage(`{"status":"ok"}`), nil
		},
	}
	llm := &scriptedLlm{turns: []models.LlmResponse{
		functionCallTurn("test_tool", `{}`),
		textTurn("done"),
	}}
	a, err := NewLLMAgent(LLMAgentConfig{Name: "tester", Model: llm, Tools: []tools.Tool{tool}})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	events := runToCompletion(t, a, newTestContext(a))

	if capturedUser != "user-123" || capturedSession != "session-456" {
		t.Errorf("captured ids = %q/%q", capturedUser, capturedSession)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (call, response, terminal)", len(events))
	}
	if calls := events[0].PendingFunctionCalls(); len(calls) != 1 || calls[0].Name != "test_tool" {
		t.Errorf("first event should carry the function call, got %+v", events[0])
	}
	respParts := events[1].LlmResponse.Content.Parts
	if len(respParts) != 1 {
		t.Fatalf("response event parts = %d", len(respParts))
	}
	fr, ok := respParts[0].(models.FunctionResponsePart)
	if !ok || fr.ID != "call_test_tool" || string(fr.Response) != `{"status":"ok"}` {
		t.Errorf("function response = %#v", respParts[0])
	}
	last := events[len(events)-1]
	if !last.IsFinal() {
		t.Error("stream must end with a terminal event")
	}
}

func TestUnknownToolSynthesizesResponse(t *testing.T) {
	llm := &scriptedLlm{turns: []models.LlmResponse{
		functionCallTurn("ghost", `{}`),
		textTurn("done"),
	}}
	a, err := NewLLMAgent(LLMAgentConfig{Name: "tester", Model: llm})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))

	fr, ok := events[1].LlmResponse.Content.Parts[0].(models.FunctionResponsePart)
	if !ok {
		t.Fatalf("second event is not a function response: %#v", events[1])
	}
	var payload map[string]string
	if err := json.Unmarshal(fr.Response, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "unknown_tool" || payload["name"] != "ghost" {
		t.Errorf("payload = %v", payload)
	}
}

func TestMaxIterations(t *testing.T) {
	// The model insists on calling the tool forever.
	llm := &scriptedLlm{turns: []models.LlmResponse{functionCallTurn("loop_tool", `{}`)}}
	tool := &tools.Func{ToolName: "loop_tool", Fn: func(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}}
	a, err := NewLLMAgent(LLMAgentConfig{Name: "looper", Model: llm, Tools: []tools.Tool{tool}})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	ctx := NewInvocationContext(InvocationParams{
		Agent:       a,
		UserContent: models.NewTextContent(models.RoleUser, "go"),
		RunConfig:   RunConfig{MaxIterations: 3, Streaming: true},
	})
	events := runToCompletion(t, a, ctx)

	last := events[len(events)-1]
	if last.LlmResponse.ErrorMessage != "max_iterations" || last.LlmResponse.FinishReason != models.FinishOther {
		t.Errorf("terminal = %+v", last.LlmResponse)
	}
	responseEvents := 0
	for _, ev := range events {
		if ev.LlmResponse.Content == nil {
			continue
		}
		for _, p := range ev.LlmResponse.Content.Parts {
			if _, ok := p.(models.FunctionResponsePart); ok {
				responseEvents++
			}
		}
	}
	if responseEvents > 3 {
		t.Errorf("emitted %d function responses, max_iterations was 3", responseEvents)
	}
}

func TestEventOrdering(t *testing.T) {
	llm := &scriptedLlm{turns: []models.LlmResponse{
		functionCallTurn("test_tool", `{}`),
		textTurn("all done"),
	}}
	tool := &tools.Func{ToolName: "test_tool", Fn: func(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}}
	a, err := NewLLMAgent(LLMAgentConfig{Name: "tester", Model: llm, Tools: []tools.Tool{tool}})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))

	// Expected shape: call, response, terminal-with-text.
	type kind int
	const (
		kindCall kind = iota
		kindResponse
		kindOther
	)
	classify := func(ev *models.Event) kind {
		if ev.LlmResponse.Content != nil {
			for _, p := range ev.LlmResponse.Content.Parts {
				switch p.(type) {
				case models.FunctionCallPart:
					return kindCall
				case models.FunctionResponsePart:
					return kindResponse
				}
			}
		}
		return kindOther
	}
	if classify(events[0]) != kindCall || classify(events[1]) != kindResponse {
		t.Errorf("call/response pair out of order")
	}
	for i, ev := range events {
		if classify(ev) == kindCall && i+1 < len(events) && classify(events[i+1]) != kindResponse {
			t.Errorf("function call at %d not followed by its response", i)
		}
	}
	last := events[len(events)-1]
	if last.LlmResponse.Content.Text() != "all done" || !last.LlmResponse.TurnComplete {
		t.Errorf("terminal event = %+v", last.LlmResponse)
	}
}

func TestBeforeModelReplacement(t *testing.T) {
	llm := &scriptedLlm{turns: []models.LlmResponse{textTurn("hi")}}
	a, err := NewLLMAgent(LLMAgentConfig{
		Name:  "tester",
		Model: llm,
		Callbacks: Callbacks{
			BeforeModel: []ModelCallback{
				func(ctx *CallbackContext, content *models.Content) (*models.Content, error) {
					return models.NewTextContent(models.RoleUser, "replaced"), nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	runToCompletion(t, a, newTestContext(a))

	req := llm.reqs[0]
	lastContent := req.Contents[len(req.Contents)-1]
	if lastContent.Text() != "replaced" {
		t.Errorf("model saw %q, want the substituted turn", lastContent.Text())
	}
}

func TestAfterModelReplacesFinalEvent(t *testing.T) {
	llm := &scriptedLlm{turns: []models.LlmResponse{textTurn("original")}}
	a, err := NewLLMAgent(LLMAgentConfig{
		Name:  "tester",
		Model: llm,
		Callbacks: Callbacks{
			AfterModel: []ModelCallback{
				func(ctx *CallbackContext, content *models.Content) (*models.Content, error) {
					return models.NewTextContent(models.RoleModel, "rewritten"), nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))
	if len(events) != 1 {
		t.Fatalf("substitution must replace, not duplicate: %d events", len(events))
	}
	if events[0].LlmResponse.Content.Text() != "rewritten" {
		t.Errorf("final text = %q", events[0].LlmResponse.Content.Text())
	}
}

func TestBeforeToolSkipsExecution(t *testing.T) {
	executed := false
	tool := &tools.Func{ToolName: "guarded", Fn: func(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
		executed = true
		return json.RawMessage(`{}`), nil
	}}
	llm := &scriptedLlm{turns: []models.LlmResponse{
		functionCallTurn("guarded", `{}`),
		textTurn("done"),
	}}
	a, err := NewLLMAgent(LLMAgentConfig{
		Name:  "tester",
		Model: llm,
		Tools: []tools.Tool{tool},
		Callbacks: Callbacks{
			BeforeTool: []ToolCallback{
				func(ctx *ToolContext, call models.FunctionCallPart, response json.RawMessage) (json.RawMessage, error) {
					return json.RawMessage(`{"blocked":true}`), nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))
	if executed {
		t.Error("before-tool substitution must skip execution")
	}
	fr := events[1].LlmResponse.Content.Parts[0].(models.FunctionResponsePart)
	if string(fr.Response) != `{"blocked":true}` {
		t.Errorf("response = %s", fr.Response)
	}
}

func TestCallbackErrorIsFatal(t *testing.T) {
	llm := &scriptedLlm{turns: []models.LlmResponse{textTurn("hi")}}
	a, err := NewLLMAgent(LLMAgentConfig{
		Name:  "tester",
		Model: llm,
		Callbacks: Callbacks{
			BeforeModel: []ModelCallback{
				func(ctx *CallbackContext, content *models.Content) (*models.Content, error) {
					return nil, errors.New("boom")
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))
	last := events[len(events)-1]
	if last.LlmResponse.ErrorMessage == "" || last.LlmResponse.FinishReason != models.FinishOther {
		t.Errorf("callback error should abort with terminal error frame: %+v", last.LlmResponse)
	}
}

func TestToolErrorIsRecoverable(t *testing.T) {
	tool := &tools.Func{ToolName: "flaky", Fn: func(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("transient failure")
	}}
	llm := &scriptedLlm{turns: []models.LlmResponse{
		functionCallTurn("flaky", `{}`),
		textTurn("recovered"),
	}}
	a, err := NewLLMAgent(LLMAgentConfig{Name: "tester", Model: llm, Tools: []tools.Tool{tool}})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))
	last := events[len(events)-1]
	if last.LlmResponse.Content.Text() != "recovered" {
		t.Errorf("invocation should continue after tool error, terminal = %+v", last.LlmResponse)
	}
	fr := events[1].LlmResponse.Content.Parts[0].(models.FunctionResponsePart)
	var payload map[string]string
	if err := json.Unmarshal(fr.Response, &payload); err != nil || payload["error"] == "" {
		t.Errorf("tool error should surface in the response payload: %s", fr.Response)
	}
}

func TestEndInvocationAction(t *testing.T) {
	tool := tools.ExitLoop()
	llm := &scriptedLlm{turns: []models.LlmResponse{functionCallTurn("exit_loop", `{}`)}}
	a, err := NewLLMAgent(LLMAgentConfig{Name: "looper", Model: llm, Tools: []tools.Tool{tool}})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))
	if llm.calls != 1 {
		t.Errorf("model called %d times after end_invocation, want 1", llm.calls)
	}
	last := events[len(events)-1]
	if !last.LlmResponse.TurnComplete {
		t.Error("terminal event missing")
	}
}

func TestTransferToSubAgent(t *testing.T) {
	child, err := NewCustomAgent(CustomAgentConfig{
		Name: "child",
		Handler: func(ctx *InvocationContext) (<-chan *models.Event, error) {
			ch := make(chan *models.Event, 1)
			ev := models.NewEvent(ctx.InvocationID(), "child", textTurn("from child"))
			if ctx.Branch() != "main/child" {
				ev.LlmResponse.ErrorMessage = "wrong branch " + ctx.Branch()
			}
			ch <- ev
			close(ch)
			return ch, nil
		},
	})
	if err != nil {
		t.Fatalf("new child: %v", err)
	}

	tool := tools.TransferToAgent()
	llm := &scriptedLlm{turns: []models.LlmResponse{
		functionCallTurn("transfer_to_agent", `{"agent_name":"child"}`),
	}}
	a, err := NewLLMAgent(LLMAgentConfig{
		Name:      "parent",
		Model:     llm,
		Tools:     []tools.Tool{tool},
		SubAgents: []Agent{child},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	events := runToCompletion(t, a, newTestContext(a))

	last := events[len(events)-1]
	if last.LlmResponse.ErrorMessage != "" {
		t.Errorf("child saw error: %s", last.LlmResponse.ErrorMessage)
	}
	if last.LlmResponse.Content.Text() != "from child" {
		t.Errorf("child events should be forwarded, terminal = %+v", last.LlmResponse)
	}
	if llm.calls != 1 {
		t.Errorf("single-hop transfer must not resume the parent; model calls = %d", llm.calls)
	}
}

func TestAgentRequiresModel(t *testing.T) {
	_, err := NewLLMAgent(LLMAgentConfig{Name: "no-model"})
	var agentErr *Error
	if !errors.As(err, &agentErr) || agentErr.Kind != KindAgent {
		t.Errorf("err = %v, want agent-kind error", err)
	}
}
