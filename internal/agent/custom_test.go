package agent

import (
	"errors"
	"testing"

	"github.com/haasonsaas/agentkit/pkg/models"
)

func TestEchoCustomAgent(t *testing.T) {
	echo, err := NewCustomAgent(CustomAgentConfig{
		Name: "echo_agent",
		Handler: func(ctx *InvocationContext) (<-chan *models.Event, error) {
			ch := make(chan *models.Event, 1)
			ch <- models.NewEvent(ctx.InvocationID(), "echo_agent", models.LlmResponse{
				Content:      ctx.UserContent(),
				FinishReason: models.FinishStop,
				TurnComplete: true,
			})
			close(ch)
			return ch, nil
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := NewInvocationContext(InvocationParams{
		Agent:       echo,
		UserContent: models.NewTextContent(models.RoleUser, "test"),
	})
	events := runToCompletion(t, echo, ctx)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	content := events[0].LlmResponse.Content
	if len(content.Parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(content.Parts))
	}
	if tp, ok := content.Parts[0].(models.TextPart); !ok || tp.Text != "test" {
		t.Errorf("part = %#v, want Text{test}", content.Parts[0])
	}
}

func TestDuplicateSubAgentsFailBuild(t *testing.T) {
	mk := func() Agent {
		a, err := NewCustomAgent(CustomAgentConfig{
			Name: "duplicate",
			Handler: func(ctx *InvocationContext) (<-chan *models.Event, error) {
				ch := make(chan *models.Event)
				close(ch)
				return ch, nil
			},
		})
		if err != nil {
			t.Fatalf("child build: %v", err)
		}
		return a
	}

	_, err := NewCustomAgent(CustomAgentConfig{
		Name: "parent",
		Handler: func(ctx *InvocationContext) (<-chan *models.Event, error) {
			ch := make(chan *models.Event)
			close(ch)
			return ch, nil
		},
		SubAgents: []Agent{mk(), mk()},
	})
	var agentErr *Error
	if !errors.As(err, &agentErr) || agentErr.Kind != KindAgent {
		t.Fatalf("err = %v, want agent-kind duplicate error", err)
	}
}

func TestCustomAgentRequiresHandler(t *testing.T) {
	_, err := NewCustomAgent(CustomAgentConfig{Name: "nohandler"})
	if err == nil {
		t.Fatal("missing handler should fail the build")
	}
}

func TestFindAgentRecursive(t *testing.T) {
	handler := func(ctx *InvocationContext) (<-chan *models.Event, error) {
		ch := make(chan *models.Event)
		close(ch)
		return ch, nil
	}
	leaf, _ := NewCustomAgent(CustomAgentConfig{Name: "leaf", Handler: handler})
	mid, _ := NewCustomAgent(CustomAgentConfig{Name: "mid", Handler: handler, SubAgents: []Agent{leaf}})
	root, _ := NewCustomAgent(CustomAgentConfig{Name: "root", Handler: handler, SubAgents: []Agent{mid}})

	if got := root.FindAgent("leaf"); got == nil || got.Name() != "leaf" {
		t.Errorf("FindAgent(leaf) = %v", got)
	}
	if got := root.FindAgent("ghost"); got != nil {
		t.Errorf("FindAgent(ghost) = %v, want nil", got)
	}
}
