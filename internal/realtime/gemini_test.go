package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBuildVertexLiveURL(t *testing.T) {
	got, err := BuildVertexLiveURL("us-central1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "wss://us-central1-aiplatform.googleapis.com/ws/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
}

func TestBuildVertexLiveURLEmptyRegion(t *testing.T) {
	_, err := BuildVertexLiveURL("")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if !strings.Contains(cfgErr.Error(), "region") {
		t.Errorf("message %q should mention region", cfgErr.Error())
	}
}

func TestBuildVertexLiveURLGeneratedRegions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	alnum := "abcdefghijklmnopqrstuvwxyz0123456789"
	for i := 0; i < 100; i++ {
		n := rng.Intn(20) + 2
		b := make([]byte, n)
		b[0] = alnum[rng.Intn(len(alnum))]
		b[n-1] = alnum[rng.Intn(len(alnum))]
		for j := 1; j < n-1; j++ {
			if rng.Intn(5) == 0 {
				b[j] = '-'
			} else {
				b[j] = alnum[rng.Intn(len(alnum))]
			}
		}
		region := string(b)

		got, err := BuildVertexLiveURL(region)
		if err != nil {
			t.Fatalf("region %q rejected: %v", region, err)
		}
		if !strings.HasPrefix(got, "wss://") {
			t.Errorf("url %q does not start with wss://", got)
		}
		parsed, err := url.Parse(got)
		if err != nil {
			t.Fatalf("url %q does not parse: %v", got, err)
		}
		if parsed.Host != region+"-aiplatform.googleapis.com" {
			t.Errorf("host = %q", parsed.Host)
		}
		if !strings.HasSuffix(parsed.Path, "/BidiGenerateContent") {
			t.Errorf("path = %q", parsed.Path)
		}
	}
}

func TestBuildVertexLiveURLRejectsBadRegions(t *testing.T) {
	for _, region := range []string{"-us", "us-", "US", "us_central", "us central"} {
		if _, err := BuildVertexLiveURL(region); err == nil {
			t.Errorf("region %q should be rejected", region)
		}
	}
}

// mockLiveServer upgrades, acknowledges setup, and replies to any
// realtimeInput with a fixed audio delta.
func mockLiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch {
			case strings.Contains(string(payload), `"setup"`):
				if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
					return
				}
			case strings.Contains(string(payload), `"realtimeInput"`):
				reply := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"AAAA"}}]}}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		}
	}))
}

func TestGeminiLiveAudioRoundTrip(t *testing.T) {
	srv := mockLiveServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sess, err := ConnectGeminiLive(ctx, GeminiLiveConfig{
		URL:   wsURL,
		Model: "projects/p/locations/l/publishers/google/models/gemini-live",
		Session: Config{
			InputAudioFormat:  Format16k,
			OutputAudioFormat: Format24k,
		},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	chunk := AudioChunk{Data: make([]byte, 100), Format: Format16k}
	if err := sess.SendAudio(ctx, chunk); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	next := func() ServerEvent {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("event stream closed early")
			}
			return ev
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return nil
	}

	if _, ok := next().(SessionCreated); !ok {
		t.Fatal("first event should be SessionCreated")
	}
	delta, ok := next().(AudioDelta)
	if !ok {
		t.Fatal("second event should be AudioDelta")
	}
	if got := base64.StdEncoding.EncodeToString(delta.Data); got != "AAAA" {
		t.Errorf("delta = %q, want AAAA", got)
	}
}

func TestGeminiLiveZeroLengthAudioDropped(t *testing.T) {
	srv := mockLiveServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sess, err := ConnectGeminiLive(ctx, GeminiLiveConfig{
		URL:     wsURL,
		Model:   "m",
		Session: Config{InputAudioFormat: Format16k, OutputAudioFormat: Format24k},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(ctx, AudioChunk{Format: Format16k}); err != nil {
		t.Errorf("zero-length chunk should be silently dropped, got %v", err)
	}

	// Only the setup acknowledgment should arrive; no audio reply.
	select {
	case ev := <-sess.Events():
		if _, ok := ev.(SessionCreated); !ok {
			t.Errorf("unexpected event %T", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out")
	}
	select {
	case ev := <-sess.Events():
		t.Errorf("no further event expected, got %T", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGeminiLiveRejectsInvalidConfig(t *testing.T) {
	_, err := ConnectGeminiLive(context.Background(), GeminiLiveConfig{
		URL:     "ws://unused",
		Session: Config{InputAudioFormat: AudioFormat{SampleRate: 7000}},
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("err = %v, want ConfigError", err)
	}
}
