package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// fakeSession is an in-memory Session for runner tests.
type fakeSession struct {
	mu         sync.Mutex
	events     chan ServerEvent
	audio      []AudioChunk
	toolResps  []ToolResponse
	interrupts int
	closed     bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan ServerEvent, 32)}
}

func (f *fakeSession) SessionID() string { return "fake" }

func (f *fakeSession) SendAudio(ctx context.Context, chunk AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, chunk)
	return nil
}

func (f *fakeSession) SendText(ctx context.Context, text string) error { return nil }

func (f *fakeSession) SendToolResponse(ctx context.Context, resp ToolResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolResps = append(f.toolResps, resp)
	return nil
}

func (f *fakeSession) CommitAudio(ctx context.Context) error    { return nil }
func (f *fakeSession) ClearAudio(ctx context.Context) error     { return nil }
func (f *fakeSession) CreateResponse(ctx context.Context) error { return nil }

func (f *fakeSession) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeSession) Events() <-chan ServerEvent { return f.events }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

type recordingHandler struct {
	NopHandler
	mu     sync.Mutex
	audio  []AudioDelta
	done   int
	errors []ErrorEvent
}

func (h *recordingHandler) OnAudio(d AudioDelta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = append(h.audio, d)
}

func (h *recordingHandler) OnResponseDone() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done++
}

func (h *recordingHandler) OnError(e ErrorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, e)
}

func runRunner(t *testing.T, r *Runner, sess *fakeSession) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(context.Background())
	}()
	return func() {
		sess.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not stop")
		}
	}
}

func TestRunnerBuffersInputAudio(t *testing.T) {
	sess := newFakeSession()
	r := NewRunner(RunnerConfig{Session: sess, Handler: &recordingHandler{}, InputFormat: Format16k})

	// 6400 bytes is one 200 ms window at 16 kHz.
	if err := r.SendAudio(context.Background(), AudioChunk{Data: make([]byte, 6000), Format: Format16k}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sess.audio) != 0 {
		t.Error("sub-window audio should stay buffered")
	}
	if err := r.SendAudio(context.Background(), AudioChunk{Data: make([]byte, 1000), Format: Format16k}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sess.audio) != 1 {
		t.Fatalf("windows sent = %d, want 1", len(sess.audio))
	}
	if err := r.FlushAudio(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sess.audio) != 2 {
		t.Errorf("tail should flush, sent = %d", len(sess.audio))
	}
}

func TestRunnerToolPassThrough(t *testing.T) {
	reg := tools.NewRegistry()
	err := reg.Register(&tools.Func{
		ToolName: "clock",
		Fn: func(ctx tools.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"now":"noon"}`), nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	sess := newFakeSession()
	handler := &recordingHandler{}
	r := NewRunner(RunnerConfig{Session: sess, Handler: handler, Tools: reg})
	stop := runRunner(t, r, sess)

	sess.events <- ToolCall{CallID: "c1", Name: "clock", Args: json.RawMessage(`{}`)}
	sess.events <- ToolCall{CallID: "c2", Name: "ghost", Args: json.RawMessage(`{}`)}
	stop()

	if len(sess.toolResps) != 2 {
		t.Fatalf("responses = %d, want 2", len(sess.toolResps))
	}
	if string(sess.toolResps[0].Output) != `{"now":"noon"}` {
		t.Errorf("first response = %s", sess.toolResps[0].Output)
	}
	var ghost map[string]string
	if err := json.Unmarshal(sess.toolResps[1].Output, &ghost); err != nil || ghost["error"] != "unknown_tool" {
		t.Errorf("unknown tool response = %s", sess.toolResps[1].Output)
	}
}

func TestRunnerInterruptDiscardsPendingAudio(t *testing.T) {
	sess := newFakeSession()
	handler := &recordingHandler{}
	r := NewRunner(RunnerConfig{Session: sess, Handler: handler})
	stop := runRunner(t, r, sess)

	if err := r.Interrupt(context.Background()); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	sess.events <- AudioDelta{Data: []byte{1, 2}}
	sess.events <- ResponseDone{}
	sess.events <- AudioDelta{Data: []byte{3, 4}}
	stop()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.audio) != 1 {
		t.Fatalf("handler audio = %d, want 1 (pre-done delta discarded)", len(handler.audio))
	}
	if handler.audio[0].Data[0] != 3 {
		t.Error("only post-done audio should reach the handler")
	}
	if handler.done != 1 {
		t.Errorf("done = %d", handler.done)
	}
	if sess.interrupts != 1 {
		t.Errorf("session interrupts = %d", sess.interrupts)
	}
}

func TestRunnerRemoteSpeechStartedActsLikeInterrupt(t *testing.T) {
	sess := newFakeSession()
	handler := &recordingHandler{}
	r := NewRunner(RunnerConfig{Session: sess, Handler: handler})
	stop := runRunner(t, r, sess)

	sess.events <- SpeechStarted{AudioMS: 120}
	sess.events <- AudioDelta{Data: []byte{9}}
	sess.events <- ResponseDone{}
	stop()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.audio) != 0 {
		t.Error("audio after barge-in should be discarded until ResponseDone")
	}
	if handler.done != 1 {
		t.Errorf("handler must hear ResponseDone, done = %d", handler.done)
	}
}

func TestSinkDecorator(t *testing.T) {
	var sunk []AudioChunk
	sink := audioSinkFunc(func(c AudioChunk) error {
		sunk = append(sunk, c)
		return nil
	})
	inner := &recordingHandler{}
	dec := &SinkDecorator{EventHandler: inner, Sink: sink}
	dec.OnAudio(AudioDelta{Data: []byte{1}, Format: Format24k})

	if len(sunk) != 1 {
		t.Error("sink should receive the audio")
	}
	if len(inner.audio) != 1 {
		t.Error("wrapped handler should still receive the audio")
	}
}

type audioSinkFunc func(AudioChunk) error

func (f audioSinkFunc) WriteAudio(c AudioChunk) error { return f(c) }
