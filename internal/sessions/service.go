// Package sessions provides the conversation store: an append-only event log
// per session plus scoped mutable state. Backends are pluggable behind the
// Service interface; the in-memory store is authoritative for semantics and
// the SQL stores add durability.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/agentkit/pkg/models"
)

var (
	// ErrAlreadyExists is returned by Create when the session id is taken.
	ErrAlreadyExists = errors.New("sessions: session already exists")

	// ErrNotFound is returned when a session id does not resolve.
	ErrNotFound = errors.New("sessions: session not found")
)

// Session is a snapshot of one conversation: identity, the event log in
// insertion order, and the merged state visible to the session at read time.
type Session struct {
	ID             string          `json:"id"`
	AppName        string          `json:"app_name"`
	UserID         string          `json:"user_id"`
	Events         []*models.Event `json:"events"`
	State          *State          `json:"state"`
	LastUpdateTime time.Time       `json:"last_update_time"`
}

// ConversationHistory returns the contents of all events that carry content,
// in insertion order. This is what the engine feeds back to the model.
func (s *Session) ConversationHistory() []*models.Content {
	var history []*models.Content
	for _, ev := range s.Events {
		if ev.LlmResponse.Content != nil && len(ev.LlmResponse.Content.Parts) > 0 {
			history = append(history, ev.LlmResponse.Content)
		}
	}
	return history
}

// CreateRequest asks the service to create a session. SessionID is optional;
// the service generates one when empty. State seeds the initial state and may
// use app:/user: prefixes to seed the shared scopes.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     map[string]json.RawMessage
}

// GetRequest fetches a session. NumRecentEvents and After window the event
// log; zero values mean "no filter". Events are always returned in insertion
// order.
type GetRequest struct {
	AppName         string
	UserID          string
	SessionID       string
	NumRecentEvents int
	After           time.Time
}

// ListRequest enumerates the sessions of one user in one app. PageToken is an
// opaque cursor for durable backends; in-memory stores ignore it.
type ListRequest struct {
	AppName   string
	UserID    string
	PageToken string
}

// ListResponse carries one page of sessions. No ordering guarantee.
type ListResponse struct {
	Sessions      []*Session
	NextPageToken string
}

// DeleteRequest removes a session. Deleting an unknown session is a no-op.
type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// Service is the session store contract. All implementations serialize
// AppendEvent per session: concurrent appends are linearized and never
// interleave event bodies.
type Service interface {
	// Create makes a new session. Fails with ErrAlreadyExists when the
	// requested id is taken.
	Create(ctx context.Context, req CreateRequest) (*Session, error)

	// Get returns a session snapshot with its event window and merged state.
	Get(ctx context.Context, req GetRequest) (*Session, error)

	// List returns the user's sessions in the app.
	List(ctx context.Context, req ListRequest) (*ListResponse, error)

	// Delete removes a session. Idempotent.
	Delete(ctx context.Context, req DeleteRequest) error

	// AppendEvent atomically assigns a timestamp if absent, appends the event
	// to the log, applies the non-temp: part of event.Actions.StateDelta to
	// the owning scopes, and bumps the session's last-update time. If any
	// step fails the log is unchanged.
	AppendEvent(ctx context.Context, sessionID string, event *models.Event) error
}
