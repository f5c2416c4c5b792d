package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentkit/internal/providers"
)

// vertexLivePath is the bidi endpoint served by every Vertex region.
const vertexLivePath = "/ws/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"

// BuildVertexLiveURL constructs the Vertex Live WebSocket URL for a region.
// Regions are lowercase alphanumeric/hyphen strings starting and ending with
// an alphanumeric; anything else is a configuration error.
func BuildVertexLiveURL(region string) (string, error) {
	if region == "" {
		return "", &ConfigError{Message: "region must not be empty"}
	}
	if !validRegion(region) {
		return "", &ConfigError{Message: fmt.Sprintf("invalid region %q", region)}
	}
	u := url.URL{
		Scheme: "wss",
		Host:   region + "-aiplatform.googleapis.com",
		Path:   vertexLivePath,
	}
	return u.String(), nil
}

func validRegion(region string) bool {
	alnum := func(c byte) bool {
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	if !alnum(region[0]) || !alnum(region[len(region)-1]) {
		return false
	}
	for i := 0; i < len(region); i++ {
		if !alnum(region[i]) && region[i] != '-' {
			return false
		}
	}
	return true
}

// GeminiLiveConfig configures a Gemini Live session.
type GeminiLiveConfig struct {
	// Region selects the Vertex endpoint. Ignored when URL is set.
	Region string

	// URL overrides the endpoint; used by tests and proxies.
	URL string

	// Model is the fully qualified model resource name.
	Model string

	// TokenSource supplies the bearer token for Vertex.
	TokenSource providers.TokenSource

	// Session carries the session-level options.
	Session Config

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

// GeminiLiveSession is a Session over the Vertex BidiGenerateContent
// WebSocket. A single writer goroutine serializes outbound frames; the read
// loop is the sole producer on Events.
type GeminiLiveSession struct {
	conn      *websocket.Conn
	events    chan ServerEvent
	writes    chan []byte
	closeOnce sync.Once
	done      chan struct{}
	sessionID string
}

// Gemini Live wire shapes (client side).
type geminiLiveSetup struct {
	Setup struct {
		Model             string          `json:"model"`
		SystemInstruction *geminiLiveText `json:"systemInstruction,omitempty"`
		GenerationConfig  *struct {
			ResponseModalities []string `json:"responseModalities,omitempty"`
			SpeechConfig       *struct {
				VoiceName string `json:"voiceName,omitempty"`
			} `json:"speechConfig,omitempty"`
		} `json:"generationConfig,omitempty"`
		Tools []map[string]any `json:"tools,omitempty"`
	} `json:"setup"`
}

type geminiLiveText struct {
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type geminiLiveServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete        bool `json:"turnComplete"`
		Interrupted         bool `json:"interrupted"`
		InputTranscription  *struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
	} `json:"serverContent"`
	ToolCall *struct {
		FunctionCalls []struct {
			ID   string          `json:"id"`
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		} `json:"functionCalls"`
	} `json:"toolCall"`
	GoAway *struct{} `json:"goAway"`
}

// ConnectGeminiLive dials the endpoint, sends the setup frame, and starts
// the read and write loops. SessionCreated is emitted once the server
// acknowledges setup.
func ConnectGeminiLive(ctx context.Context, cfg GeminiLiveConfig) (*GeminiLiveSession, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	endpoint := cfg.URL
	if endpoint == "" {
		var err error
		endpoint, err = BuildVertexLiveURL(cfg.Region)
		if err != nil {
			return nil, err
		}
	}

	header := http.Header{}
	if cfg.TokenSource != nil {
		tok, err := cfg.TokenSource.Token(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+tok.Value)
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

	s := &GeminiLiveSession{
		conn:      conn,
		events:    make(chan ServerEvent, 16),
		writes:    make(chan []byte, 16),
		done:      make(chan struct{}),
		sessionID: "gemini-live",
	}
	go s.writeLoop()
	go s.readLoop()

	setup := geminiLiveSetup{}
	setup.Setup.Model = cfg.Model
	if cfg.Session.Instruction != "" {
		instr := &geminiLiveText{}
		instr.Parts = append(instr.Parts, struct {
			Text string `json:"text"`
		}{Text: cfg.Session.Instruction})
		setup.Setup.SystemInstruction = instr
	}
	if len(cfg.Session.Tools) > 0 {
		decls := make([]map[string]any, 0, len(cfg.Session.Tools))
		for _, t := range cfg.Session.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		setup.Setup.Tools = []map[string]any{{"functionDeclarations": decls}}
	}
	if err := s.send(ctx, setup); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// SessionID implements Session.
func (s *GeminiLiveSession) SessionID() string { return s.sessionID }

func (s *GeminiLiveSession) send(ctx context.Context, v any) error {
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
func (s *GeminiLiveSession) SendAudio(ctx context.Context, chunk AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	msg := map[string]any{
		"realtimeInput": map[string]any{
			"mediaChunks": []map[string]string{{
				"mimeType": fmt.Sprintf("audio/pcm;rate=%d", chunk.Format.SampleRate),
				"data":     base64.StdEncoding.EncodeToString(chunk.Data),
			}},
		},
	}
	return s.send(ctx, msg)
}

// SendText implements Session.
func (s *GeminiLiveSession) SendText(ctx context.Context, text string) error {
	msg := map[string]any{
		"clientContent": map[string]any{
			"turns": []map[string]any{{
				"role":  "user",
				"parts": []map[string]string{{"text": text}},
			}},
			"turnComplete": true,
		},
	}
	return s.send(ctx, msg)
}

// SendToolResponse implements Session.
func (s *GeminiLiveSession) SendToolResponse(ctx context.Context, resp ToolResponse) error {
	msg := map[string]any{
		"toolResponse": map[string]any{
			"functionResponses": []map[string]any{{
				"id":       resp.CallID,
				"name":     resp.Name,
				"response": json.RawMessage(resp.Output),
			}},
		},
	}
	return s.send(ctx, msg)
}

// CommitAudio implements Session. Gemini Live delimits input by activity
// signals rather than an explicit commit.
func (s *GeminiLiveSession) CommitAudio(ctx context.Context) error {
	return s.send(ctx, map[string]any{"realtimeInput": map[string]any{"activityEnd": map[string]any{}}})
}

// ClearAudio implements Session.
func (s *GeminiLiveSession) ClearAudio(ctx context.Context) error {
	return s.send(ctx, map[string]any{"realtimeInput": map[string]any{"activityStart": map[string]any{}}})
}

// CreateResponse implements Session.
func (s *GeminiLiveSession) CreateResponse(ctx context.Context) error {
	return s.send(ctx, map[string]any{"clientContent": map[string]any{"turnComplete": true}})
}

// Interrupt implements Session: one wire message signaling new activity,
// which cancels the in-flight response and resets the input buffer.
func (s *GeminiLiveSession) Interrupt(ctx context.Context) error {
	return s.send(ctx, map[string]any{"realtimeInput": map[string]any{"activityStart": map[string]any{}}})
}

// Events implements Session.
func (s *GeminiLiveSession) Events() <-chan ServerEvent { return s.events }

// Close implements Session.
func (s *GeminiLiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		s.conn.Close()
	})
	return err
}

func (s *GeminiLiveSession) writeLoop() {
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

func (s *GeminiLiveSession) readLoop() {
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
		var msg geminiLiveServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.events <- ErrorEvent{Kind: "decode", Message: err.Error()}
			continue
		}
		s.dispatch(msg)
	}
}

func (s *GeminiLiveSession) dispatch(msg geminiLiveServerMessage) {
	switch {
	case msg.SetupComplete != nil:
		s.events <- SessionCreated{SessionID: s.sessionID}
	case msg.ToolCall != nil:
		for _, call := range msg.ToolCall.FunctionCalls {
			s.events <- ToolCall{CallID: call.ID, Name: call.Name, Args: call.Args}
		}
	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if sc.Interrupted {
			s.events <- SpeechStarted{}
		}
		if sc.InputTranscription != nil {
			s.events <- Transcript{Text: sc.InputTranscription.Text}
		}
		if sc.OutputTranscription != nil {
			s.events <- Transcript{Text: sc.OutputTranscription.Text}
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil {
					data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
					if err != nil {
						s.events <- ErrorEvent{Kind: "decode", Message: err.Error()}
						continue
					}
					s.events <- AudioDelta{Data: data, Format: Format24k}
				}
				if part.Text != "" {
					s.events <- TextDelta{Text: part.Text}
				}
			}
		}
		if sc.TurnComplete {
			s.events <- ResponseDone{}
		}
	case msg.GoAway != nil:
		s.events <- ErrorEvent{Kind: "go_away", Message: "server is disconnecting"}
	}
}
