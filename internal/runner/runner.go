// Package runner is the entry point that ties an agent to the session,
// memory, and artifact services: it resolves the session, constructs the
// invocation context, persists the user turn, and runs the agent.
package runner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/agentkit/internal/agent"
	"github.com/haasonsaas/agentkit/internal/artifacts"
	"github.com/haasonsaas/agentkit/internal/memory"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/pkg/models"
)

// Runner executes invocations of one root agent for one app.
type Runner struct {
	appName   string
	root      agent.Agent
	sessions  sessions.Service
	memory    memory.Service
	artifacts artifacts.Service
	logger    *slog.Logger
}

// Config configures New.
type Config struct {
	// AppName scopes sessions and shared state (required).
	AppName string

	// Agent is the root agent (required).
	Agent agent.Agent

	// Sessions persists events; defaults to the in-memory service.
	Sessions sessions.Service

	// Memory backs search_memory; optional.
	Memory memory.Service

	// Artifacts backs artifact access; optional.
	Artifacts artifacts.Service

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New builds a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.AppName == "" {
		return nil, agent.NewError(agent.KindConfig, "app name is required", nil)
	}
	if cfg.Agent == nil {
		return nil, agent.NewError(agent.KindConfig, "agent is required", nil)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = sessions.NewInMemoryService()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		appName:   cfg.AppName,
		root:      cfg.Agent,
		sessions:  cfg.Sessions,
		memory:    cfg.Memory,
		artifacts: cfg.Artifacts,
		logger:    cfg.Logger,
	}, nil
}

// Run starts one invocation for the user content against the given session,
// creating the session on first use. The user turn is persisted before the
// agent starts so the history the model sees always includes it.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, content *models.Content, runCfg agent.RunConfig) (<-chan *models.Event, error) {
	sess, err := r.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	inv := agent.NewInvocationContext(agent.InvocationParams{
		Context: ctx,
		Identity: agent.Identity{
			AgentName: r.root.Name(),
			UserID:    userID,
			AppName:   r.appName,
			SessionID: sess.ID,
		},
		UserContent: content,
		Agent:       r.root,
		Session:     sess,
		Sessions:    r.sessions,
		Memory:      r.memory,
		Artifacts:   r.artifacts,
		RunConfig:   runCfg,
		Logger:      r.logger,
	})

	if content != nil {
		userEvent := models.NewEvent(inv.InvocationID(), "user", models.LlmResponse{Content: content})
		if err := r.sessions.AppendEvent(ctx, sess.ID, userEvent); err != nil {
			return nil, agent.NewError(agent.KindSession, "persist user turn", err)
		}
	}
	return r.root.Run(inv)
}

func (r *Runner) resolveSession(ctx context.Context, userID, sessionID string) (*sessions.Session, error) {
	sess, err := r.sessions.Get(ctx, sessions.GetRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, sessions.ErrNotFound) {
		return nil, agent.NewError(agent.KindSession, "load session", err)
	}
	sess, err = r.sessions.Create(ctx, sessions.CreateRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, agent.NewError(agent.KindSession, "create session", err)
	}
	return sess, nil
}
