package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// InMemoryService is the reference Service implementation. App and user
// scoped state is shared across the sessions it owns, keyed by app name and
// app/user pair. Suitable for tests and single-process runs.
type InMemoryService struct {
	mu        sync.RWMutex
	sessions  map[string]*sessionRecord
	appState  map[string]map[string]json.RawMessage
	userState map[string]map[string]json.RawMessage
	clock     func() time.Time
}

type sessionRecord struct {
	id         string
	appName    string
	userID     string
	events     []*models.Event
	state      map[string]json.RawMessage
	lastUpdate time.Time
}

// NewInMemoryService creates an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions:  map[string]*sessionRecord{},
		appState:  map[string]map[string]json.RawMessage{},
		userState: map[string]map[string]json.RawMessage{},
		clock:     time.Now,
	}
}

func userKey(appName, userID string) string { return appName + "/" + userID }

func (s *InMemoryService) appScope(appName string) map[string]json.RawMessage {
	m, ok := s.appState[appName]
	if !ok {
		m = map[string]json.RawMessage{}
		s.appState[appName] = m
	}
	return m
}

func (s *InMemoryService) userScope(appName, userID string) map[string]json.RawMessage {
	k := userKey(appName, userID)
	m, ok := s.userState[k]
	if !ok {
		m = map[string]json.RawMessage{}
		s.userState[k] = m
	}
	return m
}

// Create makes a new session, routing any prefixed initial-state keys into
// the shared scopes. temp: keys in the initial state are rejected.
func (s *InMemoryService) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	} else if _, taken := s.sessions[id]; taken {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	rec := &sessionRecord{
		id:         id,
		appName:    req.AppName,
		userID:     req.UserID,
		state:      map[string]json.RawMessage{},
		lastUpdate: s.clock(),
	}
	app := s.appScope(req.AppName)
	user := s.userScope(req.AppName, req.UserID)
	for k, v := range req.State {
		switch scopeOf(k) {
		case KeyPrefixApp:
			app[k] = v
		case KeyPrefixUser:
			user[k] = v
		case KeyPrefixTemp:
			return nil, fmt.Errorf("sessions: temp: keys are not allowed in initial state: %s", k)
		default:
			rec.state[k] = v
		}
	}
	s.sessions[id] = rec
	return s.snapshot(rec, 0, time.Time{}), nil
}

// Get returns a snapshot with events filtered by the request window.
func (s *InMemoryService) Get(ctx context.Context, req GetRequest) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookup(req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(rec, req.NumRecentEvents, req.After), nil
}

// List returns all sessions of the user in the app. The in-memory store has
// no pagination; the token is ignored and never set.
func (s *InMemoryService) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := &ListResponse{}
	for _, rec := range s.sessions {
		if rec.appName == req.AppName && rec.userID == req.UserID {
			resp.Sessions = append(resp.Sessions, s.snapshot(rec, 0, time.Time{}))
		}
	}
	return resp, nil
}

// Delete removes the session if present.
func (s *InMemoryService) Delete(ctx context.Context, req DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[req.SessionID]
	if !ok || rec.appName != req.AppName || rec.userID != req.UserID {
		return nil
	}
	delete(s.sessions, req.SessionID)
	return nil
}

// AppendEvent implements the atomic append contract. State deltas are staged
// and only applied once the event is accepted, so a failure leaves the log
// and all scopes untouched.
func (s *InMemoryService) AppendEvent(ctx context.Context, sessionID string, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("sessions: event is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock()
	}
	// Monotonic guard: appends never move time backwards within a session.
	if last := len(rec.events); last > 0 && event.Timestamp.Before(rec.events[last-1].Timestamp) {
		event.Timestamp = rec.events[last-1].Timestamp.Add(time.Millisecond)
	}

	rec.events = append(rec.events, event)
	app := s.appScope(rec.appName)
	user := s.userScope(rec.appName, rec.userID)
	for k, v := range event.Actions.StateDelta {
		switch scopeOf(k) {
		case KeyPrefixTemp:
			// Invocation-scoped; dropped on persist.
		case KeyPrefixApp:
			app[k] = v
		case KeyPrefixUser:
			user[k] = v
		default:
			rec.state[k] = v
		}
	}
	rec.lastUpdate = event.Timestamp
	return nil
}

func (s *InMemoryService) lookup(appName, userID, sessionID string) (*sessionRecord, error) {
	rec, ok := s.sessions[sessionID]
	if !ok || rec.appName != appName || rec.userID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return rec, nil
}

// snapshot clones the record into a caller-owned Session. The state view
// shares the live scope maps so scoped reads observe later writes, matching
// the store-owns-sessions model.
func (s *InMemoryService) snapshot(rec *sessionRecord, numRecent int, after time.Time) *Session {
	events := rec.events
	if !after.IsZero() {
		idx := len(events)
		for i, ev := range events {
			if ev.Timestamp.After(after) {
				idx = i
				break
			}
		}
		events = events[idx:]
	}
	if numRecent > 0 && len(events) > numRecent {
		events = events[len(events)-numRecent:]
	}
	out := make([]*models.Event, len(events))
	copy(out, events)

	return &Session{
		ID:             rec.id,
		AppName:        rec.appName,
		UserID:         rec.userID,
		Events:         out,
		State:          NewState(s.appScope(rec.appName), s.userScope(rec.appName, rec.userID), rec.state),
		LastUpdateTime: rec.lastUpdate,
	}
}
