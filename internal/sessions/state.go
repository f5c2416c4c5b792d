package sessions

import (
	"encoding/json"
	"strings"
	"sync"
)

// Reserved state key prefixes. Keys with these prefixes route to their scope's
// backing store; every other key is per-session.
const (
	KeyPrefixApp  = "app:"
	KeyPrefixUser = "user:"
	KeyPrefixTemp = "temp:"
)

// scopeOf classifies a key by its prefix.
func scopeOf(key string) string {
	switch {
	case strings.HasPrefix(key, KeyPrefixApp):
		return KeyPrefixApp
	case strings.HasPrefix(key, KeyPrefixUser):
		return KeyPrefixUser
	case strings.HasPrefix(key, KeyPrefixTemp):
		return KeyPrefixTemp
	default:
		return ""
	}
}

// State is the merged key-value view a session exposes. Reads resolve with
// temp > session > user > app precedence; writes route by prefix. The temp
// scope lives for a single invocation and is dropped on persist.
type State struct {
	mu      sync.RWMutex
	app     map[string]json.RawMessage
	user    map[string]json.RawMessage
	session map[string]json.RawMessage
	temp    map[string]json.RawMessage
}

// NewState builds a state view over the given scope maps. The app and user
// maps are shared across sessions; callers pass the live maps owned by the
// store so writes propagate.
func NewState(app, user, session map[string]json.RawMessage) *State {
	if app == nil {
		app = map[string]json.RawMessage{}
	}
	if user == nil {
		user = map[string]json.RawMessage{}
	}
	if session == nil {
		session = map[string]json.RawMessage{}
	}
	return &State{
		app:     app,
		user:    user,
		session: session,
		temp:    map[string]json.RawMessage{},
	}
}

// Get resolves key across scopes. Prefixed keys read their scope directly;
// unprefixed keys read the session scope.
func (s *State) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch scopeOf(key) {
	case KeyPrefixApp:
		v, ok := s.app[key]
		return v, ok
	case KeyPrefixUser:
		v, ok := s.user[key]
		return v, ok
	case KeyPrefixTemp:
		v, ok := s.temp[key]
		return v, ok
	default:
		v, ok := s.session[key]
		return v, ok
	}
}

// Set writes key into the scope its prefix selects.
func (s *State) Set(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch scopeOf(key) {
	case KeyPrefixApp:
		s.app[key] = value
	case KeyPrefixUser:
		s.user[key] = value
	case KeyPrefixTemp:
		s.temp[key] = value
	default:
		s.session[key] = value
	}
}

// All returns a flattened snapshot with temp > session > user > app
// precedence for any key present in more than one scope. Scope prefixes keep
// the namespaces disjoint in practice, but the precedence order is the
// contract.
func (s *State) All() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.app)+len(s.user)+len(s.session)+len(s.temp))
	for k, v := range s.app {
		out[k] = v
	}
	for k, v := range s.user {
		out[k] = v
	}
	for k, v := range s.session {
		out[k] = v
	}
	for k, v := range s.temp {
		out[k] = v
	}
	return out
}

// ClearTemp drops the invocation-scoped entries.
func (s *State) ClearTemp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = map[string]json.RawMessage{}
}

// MarshalJSON serializes the flattened view minus the temp scope, which is
// never persisted.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.app)+len(s.user)+len(s.session))
	for k, v := range s.app {
		out[k] = v
	}
	for k, v := range s.user {
		out[k] = v
	}
	for k, v := range s.session {
		out[k] = v
	}
	return json.Marshal(out)
}
