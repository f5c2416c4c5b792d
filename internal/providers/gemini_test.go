package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/agentkit/pkg/models"
)

func collect(t *testing.T, ch <-chan *models.LlmResponse) []*models.LlmResponse {
	t.Helper()
	var frames []*models.LlmResponse
	for r := range ch {
		frames = append(frames, r)
	}
	return frames
}

func TestGeminiStreaming(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`+"\n\n")
	}))
	defer srv.Close()

	llm, err := NewGeminiLlm(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	temp := 0.5
	req := &models.LlmRequest{
		Model:    "gemini-2.0-flash",
		Contents: []*models.Content{models.NewTextContent(models.RoleUser, "hi")},
		Config:   &models.GenerateConfig{Temperature: &temp},
		Tools: map[string]models.ToolDeclaration{
			"lookup": {Name: "lookup", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}
	ch, err := llm.GenerateContent(context.Background(), req, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 (2 partial + terminal)", len(frames))
	}
	for _, f := range frames[:2] {
		if !f.Partial {
			t.Error("delta frames must be partial")
		}
	}
	last := frames[2]
	if !last.TurnComplete {
		t.Error("final frame must be turn-complete")
	}
	if last.FinishReason != models.FinishStop {
		t.Errorf("finish reason = %q, want stop", last.FinishReason)
	}
	if last.Content.Text() != "Hello" {
		t.Errorf("aggregate text = %q, want Hello", last.Content.Text())
	}
	if last.UsageMetadata == nil || last.UsageMetadata.TotalTokens != 5 {
		t.Errorf("usage = %+v, want total 5", last.UsageMetadata)
	}

	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Role != "user" {
		t.Errorf("request contents = %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig["temperature"] != 0.5 {
		t.Errorf("temperature not mapped: %v", gotBody.GenerationConfig)
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].FunctionDeclarations[0].Name != "lookup" {
		t.Errorf("tools not mapped: %+v", gotBody.Tools)
	}
}

func TestGeminiStreamWithoutTerminalNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"partial"}]}}]}`+"\n\n")
		// Connection ends with no finishReason.
	}))
	defer srv.Close()

	llm, err := NewGeminiLlm(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch, err := llm.GenerateContent(context.Background(), &models.LlmRequest{
		Contents: []*models.Content{models.NewTextContent(models.RoleUser, "hi")},
	}, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	frames := collect(t, ch)
	last := frames[len(frames)-1]
	if !last.TurnComplete || last.FinishReason != models.FinishOther {
		t.Errorf("truncated stream should normalize to turn_complete/other, got %+v", last)
	}
}

func TestGeminiErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	llm, err := NewGeminiLlm(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch, err := llm.GenerateContent(context.Background(), &models.LlmRequest{
		Contents: []*models.Content{models.NewTextContent(models.RoleUser, "hi")},
	}, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	frames := collect(t, ch)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 error frame", len(frames))
	}
	if frames[0].ErrorCode != string(KindQuota) {
		t.Errorf("error code = %q, want quota", frames[0].ErrorCode)
	}
	if !frames[0].TurnComplete {
		t.Error("error frame must terminate the turn")
	}
}

func TestGeminiContentRoundTrip(t *testing.T) {
	contents := []*models.Content{
		{Role: models.RoleUser, Parts: []models.Part{
			models.TextPart{Text: "look this up"},
			models.InlineDataPart{MIMEType: "image/png", Data: []byte{1, 2, 3}},
		}},
		{Role: models.RoleModel, Parts: []models.Part{
			models.FunctionCallPart{ID: "c1", Name: "lookup", Args: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: models.RoleUser, Parts: []models.Part{
			models.FunctionResponsePart{ID: "c1", Name: "lookup", Response: json.RawMessage(`{"hits":0}`)},
		}},
	}
	for _, content := range contents {
		decoded := decodeGeminiContent(encodeGeminiContent(content))
		if decoded.Role != content.Role {
			t.Errorf("role mismatch: %v vs %v", decoded.Role, content.Role)
		}
		if len(decoded.Parts) != len(content.Parts) {
			t.Fatalf("parts count mismatch: %d vs %d", len(decoded.Parts), len(content.Parts))
		}
		for i := range content.Parts {
			want, _ := json.Marshal(models.Content{Role: content.Role, Parts: []models.Part{content.Parts[i]}})
			got, _ := json.Marshal(models.Content{Role: content.Role, Parts: []models.Part{decoded.Parts[i]}})
			if string(want) != string(got) {
				t.Errorf("part %d mismatch:\nwant %s\ngot  %s", i, want, got)
			}
		}
	}
}

func TestGeminiFinishReasons(t *testing.T) {
	tests := map[string]models.FinishReason{
		"STOP":        models.FinishStop,
		"MAX_TOKENS":  models.FinishMaxTokens,
		"SAFETY":      models.FinishSafety,
		"WEIRD_THING": models.FinishOther,
		"":            models.FinishUnspecified,
	}
	for in, want := range tests {
		if got := geminiFinishReason(in); got != want {
			t.Errorf("geminiFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
