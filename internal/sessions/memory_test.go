package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentkit/pkg/models"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestCreateCollision(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "u", SessionID: "s1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "u", SessionID: "s1"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestStateScopingAcrossSessions(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{
		AppName:   "app",
		UserID:    "u1",
		SessionID: "s1",
		State: map[string]json.RawMessage{
			"app:theme":     raw(`"dark"`),
			"user:language": raw(`"en"`),
			"context":       raw(`"session1"`),
		},
	})
	if err != nil {
		t.Fatalf("create s1: %v", err)
	}
	s2, err := svc.Create(ctx, CreateRequest{
		AppName:   "app",
		UserID:    "u1",
		SessionID: "s2",
		State:     map[string]json.RawMessage{"context": raw(`"session2"`)},
	})
	if err != nil {
		t.Fatalf("create s2: %v", err)
	}

	for key, want := range map[string]string{
		"app:theme":     `"dark"`,
		"user:language": `"en"`,
		"context":       `"session2"`,
	} {
		got, ok := s2.State.Get(key)
		if !ok {
			t.Errorf("key %q missing in s2", key)
			continue
		}
		if string(got) != want {
			t.Errorf("s2 state[%q] = %s, want %s", key, got, want)
		}
	}
}

func TestTempKeysRejectedAtCreate(t *testing.T) {
	svc := NewInMemoryService()
	_, err := svc.Create(context.Background(), CreateRequest{
		AppName: "app", UserID: "u",
		State: map[string]json.RawMessage{"temp:scratch": raw(`1`)},
	})
	if err == nil {
		t.Fatal("expected error for temp: key in initial state")
	}
}

func TestAppendEvent(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ev := models.NewEvent("inv-1", "agent", models.LlmResponse{
		Content:      models.NewTextContent(models.RoleModel, "hello"),
		TurnComplete: true,
	})
	ev.Actions.StateDelta = map[string]json.RawMessage{
		"visits":      raw(`1`),
		"app:banner":  raw(`"on"`),
		"user:name":   raw(`"kim"`),
		"temp:buffer": raw(`"gone"`),
	}
	if err := svc.AppendEvent(ctx, sess.ID, ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := svc.Get(ctx, GetRequest{AppName: "app", UserID: "u", SessionID: "s"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(got.Events))
	}
	if got.Events[0].Timestamp.IsZero() {
		t.Error("append should assign a timestamp")
	}
	if !got.LastUpdateTime.Equal(got.Events[0].Timestamp) {
		t.Error("last update time should follow the appended event")
	}
	for key, want := range map[string]string{
		"visits":     `1`,
		"app:banner": `"on"`,
		"user:name":  `"kim"`,
	} {
		v, ok := got.State.Get(key)
		if !ok || string(v) != want {
			t.Errorf("state[%q] = %s (ok=%v), want %s", key, v, ok, want)
		}
	}
	if _, ok := got.State.Get("temp:buffer"); ok {
		t.Error("temp: keys must not persist")
	}
}

func TestAppendEventUnknownSession(t *testing.T) {
	svc := NewInMemoryService()
	err := svc.AppendEvent(context.Background(), "nope", models.NewEvent("i", "a", models.LlmResponse{}))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEventOrderAndWindow(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return base }

	sess, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		ev := models.NewEvent("inv", "agent", models.LlmResponse{
			Content: models.NewTextContent(models.RoleModel, string(rune('a'+i))),
		})
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := svc.AppendEvent(ctx, sess.ID, ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := svc.Get(ctx, GetRequest{AppName: "app", UserID: "u", SessionID: "s", NumRecentEvents: 2})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(got.Events))
	}
	if got.Events[0].LlmResponse.Content.Text() != "d" || got.Events[1].LlmResponse.Content.Text() != "e" {
		t.Error("window should keep the most recent events in order")
	}

	got, err = svc.Get(ctx, GetRequest{
		AppName: "app", UserID: "u", SessionID: "s",
		After: base.Add(2500 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("get after: %v", err)
	}
	if len(got.Events) != 2 {
		t.Fatalf("after filter: got %d events, want 2", len(got.Events))
	}
}

func TestDeleteIdempotent(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "u", SessionID: "s"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := DeleteRequest{AppName: "app", UserID: "u", SessionID: "s"}
	if err := svc.Delete(ctx, req); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, req); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := svc.Get(ctx, GetRequest{AppName: "app", UserID: "u", SessionID: "s"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "u", SessionID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := svc.Create(ctx, CreateRequest{AppName: "app", UserID: "other", SessionID: "c"}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	resp, err := svc.List(ctx, ListRequest{AppName: "app", UserID: "u"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Errorf("got %d sessions, want 2", len(resp.Sessions))
	}
}

func TestConversationHistorySkipsEmptyEvents(t *testing.T) {
	sess := &Session{Events: []*models.Event{
		{LlmResponse: models.LlmResponse{Content: models.NewTextContent(models.RoleUser, "hi")}},
		{LlmResponse: models.LlmResponse{TurnComplete: true}},
	}}
	if got := len(sess.ConversationHistory()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}
