package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// llmFlow executes one invocation of an LLMAgent. It owns the output channel
// for the invocation's lifetime and is the single writer to it.
type llmFlow struct {
	agent *LLMAgent
	inv   *InvocationContext
	out   chan<- *models.Event
}

func (f *llmFlow) run() {
	defer close(f.out)

	_, span := startInvocationSpan(f.inv)
	defer span.End()

	outcome := "ok"
	defer func() {
		f.agent.metrics.ObserveInvocation(f.agent.name, outcome)
	}()

	contents, err := f.buildContents()
	if err != nil {
		outcome = "error"
		f.emitError(err)
		return
	}

	maxIterations := f.inv.RunConfig().maxIterations()
	for iteration := 0; iteration < maxIterations; iteration++ {
		if f.inv.Ended() {
			outcome = "cancelled"
			f.emitCancelled()
			return
		}

		final, err := f.modelTurn(contents)
		if err != nil {
			outcome = "error"
			f.emitError(err)
			return
		}
		if final == nil {
			// Consumer went away mid-stream.
			outcome = "cancelled"
			return
		}
		if final.IsError() {
			outcome = "error"
			f.emit(models.NewEvent(f.inv.InvocationID(), f.agent.name, *final))
			return
		}

		calls := final.Content.FunctionCalls()
		if len(calls) == 0 {
			// Terminal model turn: after-model hooks may substitute the
			// final content, replacing the original emission.
			content, _, err := runModelChain(f.agent.callbacks.AfterModel, &f.inv.CallbackContext, final.Content)
			if err != nil {
				outcome = "error"
				f.emitError(err)
				return
			}
			final.Content = content
			f.persistAndEmit(models.NewEvent(f.inv.InvocationID(), f.agent.name, *final))
			return
		}

		// Surface the model turn carrying the calls, then dispatch.
		callEvent := models.NewEvent(f.inv.InvocationID(), f.agent.name, models.LlmResponse{Content: final.Content})
		if !f.persistAndEmit(callEvent) {
			outcome = "cancelled"
			return
		}

		responses, actions, transfer, err := f.dispatchCalls(calls)
		if err != nil {
			outcome = "error"
			f.emitError(err)
			return
		}

		responseContent := &models.Content{Role: models.RoleTool}
		for _, r := range responses {
			responseContent.Parts = append(responseContent.Parts, r)
		}
		responseEvent := models.NewEvent(f.inv.InvocationID(), f.agent.name, models.LlmResponse{Content: responseContent})
		responseEvent.Actions = actions
		if !f.persistAndEmit(responseEvent) {
			outcome = "cancelled"
			return
		}

		if transfer != "" {
			done, err := f.transferTo(transfer)
			if err != nil {
				outcome = "error"
				f.emitError(err)
				return
			}
			if done {
				return
			}
			// Call/return transfer: fall through and let the parent resume
			// with the child's turns already persisted.
		}

		if actions.EndInvocation || f.inv.Ended() {
			f.emit(models.NewEvent(f.inv.InvocationID(), f.agent.name, models.LlmResponse{
				FinishReason: models.FinishStop,
				TurnComplete: true,
			}))
			return
		}

		contents = append(contents, final.Content, responseContent)
	}

	outcome = "error"
	f.emit(models.NewEvent(f.inv.InvocationID(), f.agent.name, models.LlmResponse{
		FinishReason: models.FinishOther,
		ErrorMessage: "max_iterations",
		TurnComplete: true,
	}))
}

// buildContents assembles the model-facing conversation: instruction,
// history, and the (possibly substituted) user turn.
func (f *llmFlow) buildContents() ([]*models.Content, error) {
	var contents []*models.Content
	if f.agent.instruction != "" {
		contents = append(contents, models.NewTextContent(models.RoleSystem, f.agent.instruction))
	}
	if sess := f.inv.Session(); sess != nil {
		contents = append(contents, sess.ConversationHistory()...)
	}

	userContent := f.inv.UserContent()
	userContent, _, err := runModelChain(f.agent.callbacks.BeforeModel, &f.inv.CallbackContext, userContent)
	if err != nil {
		return nil, err
	}
	if userContent != nil && !lastContentEquals(contents, userContent) {
		contents = append(contents, userContent)
	}
	return contents, nil
}

func lastContentEquals(contents []*models.Content, candidate *models.Content) bool {
	if len(contents) == 0 {
		return false
	}
	last, _ := json.Marshal(contents[len(contents)-1])
	cand, _ := json.Marshal(candidate)
	return string(last) == string(cand)
}

// modelTurn runs one provider call, forwarding partial frames and returning
// the final frame. A nil return without error means the consumer dropped the
// stream.
func (f *llmFlow) modelTurn(contents []*models.Content) (*models.LlmResponse, error) {
	req := &models.LlmRequest{
		Model:    f.agent.modelName,
		Contents: contents,
		Config:   f.agent.generateConfig,
		Tools:    f.agent.registry.Declarations(),
	}

	started := time.Now()
	streaming := f.inv.RunConfig().Streaming || f.inv.RunConfig() == (RunConfig{})
	stream, err := f.agent.model.GenerateContent(f.inv.Context(), req, streaming)
	if err != nil {
		return nil, NewError(KindModel, "model call failed", err)
	}

	var final *models.LlmResponse
	for frame := range stream {
		if frame.Partial {
			if !f.emit(models.NewEvent(f.inv.InvocationID(), f.agent.name, *frame)) {
				return nil, nil
			}
			continue
		}
		if frame.EndOfTurn() {
			final = frame
		}
	}
	if final == nil {
		// Stream closed without a terminal frame; normalize.
		final = &models.LlmResponse{
			FinishReason: models.FinishOther,
			TurnComplete: true,
		}
	}
	if final.Content == nil {
		final.Content = &models.Content{Role: models.RoleModel}
	}

	outcome := "ok"
	if final.IsError() {
		outcome = "error"
	}
	var promptTokens, outputTokens int
	if u := final.UsageMetadata; u != nil {
		promptTokens, outputTokens = u.PromptTokens, u.CandidatesTokens
	}
	f.agent.metrics.ObserveModelCall(f.agent.model.Name(), req.Model, outcome, time.Since(started), promptTokens, outputTokens)
	return final, nil
}

// dispatchCalls executes the turn's function calls in emission order and
// returns the responses, the merged actions, and any transfer target.
func (f *llmFlow) dispatchCalls(calls []models.FunctionCallPart) ([]models.FunctionResponsePart, models.EventActions, string, error) {
	var (
		responses []models.FunctionResponsePart
		merged    models.EventActions
	)

	for _, call := range calls {
		if f.inv.Ended() {
			break
		}
		response, actions, err := f.dispatchOne(call)
		if err != nil {
			return nil, merged, "", err
		}
		responses = append(responses, response)

		var conflict string
		merged, conflict = merged.Merge(actions)
		if conflict != "" {
			f.agent.logger.Warn("conflicting transfer targets in one turn",
				"kept", merged.TransferToAgent, "dropped", conflict)
		}
		if merged.TransferToAgent != "" {
			// Halt further dispatch; control passes to the sub-agent.
			break
		}
	}
	return responses, merged, merged.TransferToAgent, nil
}

// dispatchOne runs a single tool call through the before/execute/after
// pipeline. Tool failures are recoverable: they become error payloads in the
// function response and the invocation continues.
func (f *llmFlow) dispatchOne(call models.FunctionCallPart) (models.FunctionResponsePart, models.EventActions, error) {
	toolCtx := NewToolContext(f.inv, call.ID)
	respond := func(payload json.RawMessage) models.FunctionResponsePart {
		return models.FunctionResponsePart{ID: call.ID, Name: call.Name, Response: payload}
	}

	tool, found := f.agent.registry.Get(call.Name)
	if !found {
		f.agent.logger.Warn("model called unknown tool", "tool", call.Name)
		payload, _ := json.Marshal(map[string]string{"error": "unknown_tool", "name": call.Name})
		return respond(payload), models.EventActions{}, nil
	}

	// Before-tool hooks may supply the response outright.
	replacement, substituted, err := runToolChain(f.agent.callbacks.BeforeTool, toolCtx, call, nil)
	if err != nil {
		return models.FunctionResponsePart{}, models.EventActions{}, err
	}

	var response json.RawMessage
	if substituted {
		response = replacement
	} else {
		started := time.Now()
		outcome := "ok"
		if verr := f.agent.registry.ValidateArgs(call.Name, call.Args); verr != nil {
			outcome = "invalid_args"
			payload, _ := json.Marshal(map[string]string{"error": verr.Error()})
			response = payload
		} else {
			result, execErr := tool.Execute(toolCtx, call.Args)
			if execErr != nil {
				outcome = "error"
				f.agent.logger.Warn("tool execution failed", "tool", call.Name, "error", execErr)
				payload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
				response = payload
			} else {
				response = result
			}
		}
		f.agent.metrics.ObserveToolCall(call.Name, outcome, time.Since(started))
	}

	response, _, err = runToolChain(f.agent.callbacks.AfterTool, toolCtx, call, response)
	if err != nil {
		return models.FunctionResponsePart{}, models.EventActions{}, err
	}
	if response == nil {
		response = json.RawMessage(`null`)
	}
	return respond(response), toolCtx.Actions(), nil
}

// transferTo hands control to the named sub-agent and forwards its events.
// Returns true when the invocation is finished (single-hop transfer or child
// error), false when the parent should resume.
func (f *llmFlow) transferTo(name string) (bool, error) {
	target := findAgent(f.agent.subAgents, name)
	if target == nil {
		return false, agentErrorf("transfer to unknown agent %q", name)
	}
	childCtx := f.inv.child(target)
	stream, err := target.Run(childCtx)
	if err != nil {
		return false, NewError(KindAgent, fmt.Sprintf("sub-agent %q failed to start", name), err)
	}
	for event := range stream {
		if !f.emit(event) {
			return true, nil
		}
	}
	return !f.agent.resumeAfterTransfer, nil
}

// persistAndEmit appends the event to the session log (when a service is
// attached) and forwards it to the consumer. Partial frames are never
// persisted; this is the non-partial path.
func (f *llmFlow) persistAndEmit(event *models.Event) bool {
	if svc := f.inv.Sessions(); svc != nil && f.inv.SessionID() != "" {
		if err := svc.AppendEvent(f.inv.Context(), f.inv.SessionID(), event); err != nil {
			f.agent.logger.Error("append event failed", "session", f.inv.SessionID(), "error", err)
		}
	}
	return f.emit(event)
}

func (f *llmFlow) emit(event *models.Event) bool {
	select {
	case f.out <- event:
		return true
	case <-f.inv.Context().Done():
		return false
	}
}

// emitError converts an engine error into the terminal error event. The
// terminal event is always emitted; callers never see a silent drop.
func (f *llmFlow) emitError(err error) {
	f.agent.logger.Error("invocation failed", "agent", f.agent.name, "error", err)
	f.emit(models.NewEvent(f.inv.InvocationID(), f.agent.name, models.LlmResponse{
		FinishReason: models.FinishOther,
		ErrorCode:    string(errorKind(err)),
		ErrorMessage: err.Error(),
		TurnComplete: true,
	}))
}

func (f *llmFlow) emitCancelled() {
	f.emit(models.NewEvent(f.inv.InvocationID(), f.agent.name, models.LlmResponse{
		FinishReason: models.FinishOther,
		ErrorCode:    string(KindCancelled),
		ErrorMessage: "invocation cancelled",
		TurnComplete: true,
		Interrupted:  true,
	}))
}

func errorKind(err error) ErrorKind {
	var agentErr *Error
	if ok := asError(err, &agentErr); ok {
		return agentErr.Kind
	}
	return KindAgent
}
