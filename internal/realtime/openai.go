package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func closeDeadline() time.Time { return time.Now().Add(time.Second) }

// OpenAIRealtimeConfig configures an OpenAI Realtime session.
type OpenAIRealtimeConfig struct {
	// APIKey authenticates the connection.
	APIKey string

	// Model selects the realtime model.
	Model string

	// URL overrides the endpoint.
	URL string

	// Session carries the session-level options.
	Session Config

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

const openAIRealtimeURL = "wss://api.openai.com/v1/realtime"

// OpenAIRealtimeSession is a Session over the OpenAI Realtime WebSocket.
// Outbound frames go through a single writer goroutine; the read loop is the
// sole producer on Events.
type OpenAIRealtimeSession struct {
	conn      *websocket.Conn
	events    chan ServerEvent
	writes    chan []byte
	closeOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	sessionID string

	// pendingCalls accumulates streamed function-call arguments by item id.
	pendingCalls map[string]*pendingCall
}

type pendingCall struct {
	callID string
	name   string
	args   string
}

type openAIServerMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Session *struct {
		ID string `json:"id"`
	} `json:"session"`
	Delta        string `json:"delta"`
	Transcript   string `json:"transcript"`
	Text         string `json:"text"`
	ItemID       string `json:"item_id"`
	AudioStartMS int    `json:"audio_start_ms"`
	AudioEndMS   int    `json:"audio_end_ms"`
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	Arguments    string `json:"arguments"`
	Error        *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ConnectOpenAIRealtime dials the endpoint and sends session.update with the
// session options.
func ConnectOpenAIRealtime(ctx context.Context, cfg OpenAIRealtimeConfig) (*OpenAIRealtimeSession, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = openAIRealtimeURL + "?model=" + cfg.Model
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("realtime: dial %s (status %d): %w", endpoint, status, err)
	}

	s := &OpenAIRealtimeSession{
		conn:         conn,
		events:       make(chan ServerEvent, 16),
		writes:       make(chan []byte, 16),
		done:         make(chan struct{}),
		pendingCalls: map[string]*pendingCall{},
	}
	go s.writeLoop()
	go s.readLoop()

	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions":        cfg.Session.Instruction,
			"voice":               cfg.Session.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
		},
	}
	if td := cfg.Session.TurnDetection; td != nil {
		update["session"].(map[string]any)["turn_detection"] = map[string]any{
			"type":                "server_vad",
			"threshold":           td.Threshold,
			"prefix_padding_ms":   td.PrefixPaddingMS,
			"silence_duration_ms": td.SilenceDurationMS,
		}
	}
	if len(cfg.Session.Tools) > 0 {
		var decls []map[string]any
		for _, t := range cfg.Session.Tools {
			decls = append(decls, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		update["session"].(map[string]any)["tools"] = decls
	}
	if err := s.send(ctx, update); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// SessionID implements Session.
func (s *OpenAIRealtimeSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *OpenAIRealtimeSession) send(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encode frame: %w", err)
	}
	select {
	case s.writes <- payload:
		return nil
	case <-s.done:
		return fmt.Errorf("realtime: session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAudio implements Session.
func (s *OpenAIRealtimeSession) SendAudio(ctx context.Context, chunk AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	return s.send(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk.Data),
	})
}

// SendText implements Session.
func (s *OpenAIRealtimeSession) SendText(ctx context.Context, text string) error {
	return s.send(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// SendToolResponse implements Session.
func (s *OpenAIRealtimeSession) SendToolResponse(ctx context.Context, resp ToolResponse) error {
	return s.send(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": resp.CallID,
			"output":  string(resp.Output),
		},
	})
}

// CommitAudio implements Session.
func (s *OpenAIRealtimeSession) CommitAudio(ctx context.Context) error {
	return s.send(ctx, map[string]any{"type": "input_audio_buffer.commit"})
}

// ClearAudio implements Session.
func (s *OpenAIRealtimeSession) ClearAudio(ctx context.Context) error {
	return s.send(ctx, map[string]any{"type": "input_audio_buffer.clear"})
}

// CreateResponse implements Session.
func (s *OpenAIRealtimeSession) CreateResponse(ctx context.Context) error {
	return s.send(ctx, map[string]any{"type": "response.create"})
}

// Interrupt implements Session: response.cancel plus buffer clear, the
// atomic pair at the wire.
func (s *OpenAIRealtimeSession) Interrupt(ctx context.Context) error {
	if err := s.send(ctx, map[string]any{"type": "response.cancel"}); err != nil {
		return err
	}
	return s.send(ctx, map[string]any{"type": "input_audio_buffer.clear"})
}

// Events implements Session.
func (s *OpenAIRealtimeSession) Events() <-chan ServerEvent { return s.events }

// Close implements Session.
func (s *OpenAIRealtimeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		s.conn.Close()
	})
	return err
}

func (s *OpenAIRealtimeSession) writeLoop() {
	for {
		select {
		case payload := <-s.writes:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *OpenAIRealtimeSession) readLoop() {
	defer close(s.events)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.events <- ErrorEvent{Kind: "transport", Message: err.Error()}
			}
			return
		}
		var msg openAIServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.events <- ErrorEvent{Kind: "decode", Message: err.Error()}
			continue
		}
		s.dispatch(msg)
	}
}

func (s *OpenAIRealtimeSession) dispatch(msg openAIServerMessage) {
	switch msg.Type {
	case "session.created":
		id := ""
		if msg.Session != nil {
			id = msg.Session.ID
		}
		s.mu.Lock()
		s.sessionID = id
		s.mu.Unlock()
		s.events <- SessionCreated{SessionID: id}

	case "response.audio.delta":
		data, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			s.events <- ErrorEvent{Kind: "decode", Message: err.Error()}
			return
		}
		s.events <- AudioDelta{Data: data, Format: Format24k, ItemID: msg.ItemID}

	case "response.text.delta", "response.audio_transcript.delta":
		s.events <- TextDelta{Text: msg.Delta, ItemID: msg.ItemID}

	case "conversation.item.input_audio_transcription.completed":
		s.events <- Transcript{Text: msg.Transcript, ItemID: msg.ItemID}

	case "input_audio_buffer.speech_started":
		s.events <- SpeechStarted{AudioMS: msg.AudioStartMS}

	case "input_audio_buffer.speech_stopped":
		s.events <- SpeechStopped{AudioMS: msg.AudioEndMS}

	case "response.function_call_arguments.done":
		args := msg.Arguments
		if args == "" {
			args = "{}"
		}
		s.events <- ToolCall{CallID: msg.CallID, Name: msg.Name, Args: json.RawMessage(args)}

	case "response.done":
		s.events <- ResponseDone{}

	case "error":
		kind, message := "provider", ""
		if msg.Error != nil {
			kind, message = msg.Error.Type, msg.Error.Message
		}
		s.events <- ErrorEvent{Kind: kind, Message: message}
	}
}
