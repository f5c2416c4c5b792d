package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// EventHandler receives session events. Implementations run on the runner's
// pump goroutine and should hand heavy work off rather than block it.
type EventHandler interface {
	OnAudio(delta AudioDelta)
	OnText(delta TextDelta)
	OnTranscript(t Transcript)
	OnSpeechStarted(e SpeechStarted)
	OnSpeechStopped(e SpeechStopped)
	OnResponseDone()
	OnError(e ErrorEvent)
}

// NopHandler is an EventHandler with empty methods, convenient for
// embedding when only a few callbacks matter.
type NopHandler struct{}

func (NopHandler) OnAudio(AudioDelta)            {}
func (NopHandler) OnText(TextDelta)              {}
func (NopHandler) OnTranscript(Transcript)       {}
func (NopHandler) OnSpeechStarted(SpeechStarted) {}
func (NopHandler) OnSpeechStopped(SpeechStopped) {}
func (NopHandler) OnResponseDone()               {}
func (NopHandler) OnError(ErrorEvent)            {}

// AudioSink receives model audio, e.g. a WebRTC media track publisher.
type AudioSink interface {
	WriteAudio(chunk AudioChunk) error
}

// SinkDecorator wraps an EventHandler and additionally publishes model audio
// to a sink. This is the seam bridges (e.g. a WebRTC track publisher) hook
// into without reimplementing the handler surface.
type SinkDecorator struct {
	EventHandler
	Sink   AudioSink
	Logger *slog.Logger
}

// OnAudio forwards to the sink and then to the wrapped handler.
func (d *SinkDecorator) OnAudio(delta AudioDelta) {
	if d.Sink != nil {
		if err := d.Sink.WriteAudio(AudioChunk{Data: delta.Data, Format: delta.Format}); err != nil && d.Logger != nil {
			d.Logger.Warn("audio sink write failed", "error", err)
		}
	}
	d.EventHandler.OnAudio(delta)
}

// Runner pumps a Session's event stream into an EventHandler, buffers and
// forwards input audio, and serves tool calls through a registry.
type Runner struct {
	session Session
	handler EventHandler
	tools   *tools.Registry
	logger  *slog.Logger

	inputBuffer *SmartAudioBuffer
	inputFormat AudioFormat

	mu          sync.Mutex
	interrupted bool
}

// RunnerConfig configures NewRunner.
type RunnerConfig struct {
	Session Session
	Handler EventHandler
	Tools   *tools.Registry
	Logger  *slog.Logger

	// InputFormat is the format of audio pushed through SendAudio.
	InputFormat AudioFormat

	// BufferWindow bounds input buffering by wall time, in milliseconds;
	// zero uses the 200 ms default.
	BufferWindow int
}

// NewRunner wraps a connected session.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	format := cfg.InputFormat
	if format.SampleRate == 0 {
		format = Format16k
	}
	return &Runner{
		session:     cfg.Session,
		handler:     cfg.Handler,
		tools:       cfg.Tools,
		logger:      logger,
		inputBuffer: NewSmartAudioBuffer(format, time.Duration(cfg.BufferWindow)*time.Millisecond),
		inputFormat: format,
	}
}

// SendAudio buffers input samples and ships full windows to the session.
// Chunks at a higher integer-multiple rate are decimated to the input
// format first.
func (r *Runner) SendAudio(ctx context.Context, chunk AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	if chunk.Format.SampleRate != r.inputFormat.SampleRate {
		down, err := Downsample(chunk, r.inputFormat)
		if err != nil {
			return err
		}
		chunk = down
	}
	for _, ready := range r.inputBuffer.Push(chunk.Data) {
		if err := r.session.SendAudio(ctx, ready); err != nil {
			return err
		}
	}
	return nil
}

// FlushAudio sends any buffered tail. Call before CommitAudio or on close
// so committed samples are never dropped.
func (r *Runner) FlushAudio(ctx context.Context) error {
	if tail, ok := r.inputBuffer.FlushRemaining(); ok {
		return r.session.SendAudio(ctx, tail)
	}
	return nil
}

// SendText forwards a text turn.
func (r *Runner) SendText(ctx context.Context, text string) error {
	return r.session.SendText(ctx, text)
}

// Interrupt cancels the in-flight response, clears buffered input on both
// ends, and drops model audio that arrives before the next ResponseDone.
// The handler gets no callback for a local interrupt; a remote barge-in
// reaches it through OnSpeechStarted.
func (r *Runner) Interrupt(ctx context.Context) error {
	r.mu.Lock()
	r.interrupted = true
	r.mu.Unlock()
	r.inputBuffer.Clear()
	return r.session.Interrupt(ctx)
}

// Close flushes the input tail and closes the session gracefully.
func (r *Runner) Close(ctx context.Context) error {
	if err := r.FlushAudio(ctx); err != nil {
		r.logger.Warn("flush on close failed", "error", err)
	}
	return r.session.Close()
}

// Run consumes the session's events until the stream closes or ctx is
// canceled. Tool calls are dispatched through the registry and answered on
// the session; discarded audio after an interruption is dropped before it
// reaches the handler.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-r.session.Events():
			if !ok {
				return nil
			}
			r.dispatch(ctx, event)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, event ServerEvent) {
	switch e := event.(type) {
	case SessionCreated:
		// Informational; handlers learn the id lazily via the session.
	case AudioDelta:
		r.mu.Lock()
		drop := r.interrupted
		r.mu.Unlock()
		if drop {
			// Pending downstream audio of a canceled response.
			return
		}
		r.handler.OnAudio(e)
	case TextDelta:
		r.handler.OnText(e)
	case Transcript:
		r.handler.OnTranscript(e)
	case SpeechStarted:
		// Remote barge-in discards pending output exactly like a local
		// interrupt.
		r.mu.Lock()
		r.interrupted = true
		r.mu.Unlock()
		r.handler.OnSpeechStarted(e)
	case SpeechStopped:
		r.handler.OnSpeechStopped(e)
	case ToolCall:
		r.serveToolCall(ctx, e)
	case ResponseDone:
		r.mu.Lock()
		r.interrupted = false
		r.mu.Unlock()
		r.handler.OnResponseDone()
	case ErrorEvent:
		r.handler.OnError(e)
	}
}

func (r *Runner) serveToolCall(ctx context.Context, call ToolCall) {
	output := r.executeTool(call)
	resp := ToolResponse{CallID: call.CallID, Name: call.Name, Output: output}
	if err := r.session.SendToolResponse(ctx, resp); err != nil {
		r.logger.Error("send tool response failed", "tool", call.Name, "error", err)
	}
}

func (r *Runner) executeTool(call ToolCall) json.RawMessage {
	fail := func(msg string) json.RawMessage {
		payload, _ := json.Marshal(map[string]string{"error": msg})
		return payload
	}
	if r.tools == nil {
		return fail("no tools configured")
	}
	tool, ok := r.tools.Get(call.Name)
	if !ok {
		r.logger.Warn("model called unknown tool", "tool", call.Name)
		payload, _ := json.Marshal(map[string]string{"error": "unknown_tool", "name": call.Name})
		return payload
	}
	if err := r.tools.ValidateArgs(call.Name, call.Args); err != nil {
		return fail(err.Error())
	}
	result, err := tool.Execute(newRealtimeToolContext(call.CallID), call.Args)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fail(err.Error())
	}
	return result
}
