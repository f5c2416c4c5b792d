package realtime

import (
	"context"
	"sync"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// realtimeToolContext is the minimal tools.Context for calls served over the
// realtime channel. Realtime sessions have no invocation or session store of
// their own; identity fields are empty, and actions are collected but the
// realtime Runner does not read them.
type realtimeToolContext struct {
	context.Context
	callID string

	mu      sync.Mutex
	actions models.EventActions
}

func newRealtimeToolContext(callID string) *realtimeToolContext {
	return &realtimeToolContext{Context: context.Background(), callID: callID}
}

func (c *realtimeToolContext) InvocationID() string   { return "" }
func (c *realtimeToolContext) AgentName() string      { return "" }
func (c *realtimeToolContext) UserID() string         { return "" }
func (c *realtimeToolContext) AppName() string        { return "" }
func (c *realtimeToolContext) SessionID() string      { return "" }
func (c *realtimeToolContext) FunctionCallID() string { return c.callID }
func (c *realtimeToolContext) Ended() bool            { return false }

func (c *realtimeToolContext) Actions() models.EventActions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions
}

func (c *realtimeToolContext) SetActions(a models.EventActions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = a
}

func (c *realtimeToolContext) SearchMemory(ctx context.Context, query string) ([]string, error) {
	return nil, nil
}
