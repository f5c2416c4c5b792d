// Package artifacts defines the binary artifact store interface and an
// in-memory implementation. Artifacts are versioned blobs scoped to a
// session; event actions record the revision written.
package artifacts

import (
	"context"
	"fmt"
	"sync"
)

// Artifact is one stored revision.
type Artifact struct {
	MIMEType string
	Data     []byte
	Revision int
}

// Service is the artifact store contract.
type Service interface {
	// Save stores a new revision and returns its number (starting at 0).
	Save(ctx context.Context, sessionID, name, mimeType string, data []byte) (int, error)

	// Load returns the given revision, or the latest when revision < 0.
	Load(ctx context.Context, sessionID, name string, revision int) (*Artifact, error)

	// List returns the artifact names of a session.
	List(ctx context.Context, sessionID string) ([]string, error)
}

// InMemoryService is the reference Service.
type InMemoryService struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]Artifact // sessionID -> name -> revisions
}

// NewInMemoryService creates an empty artifact store.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{blobs: map[string]map[string][]Artifact{}}
}

// Save implements Service.
func (s *InMemoryService) Save(ctx context.Context, sessionID, name, mimeType string, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs[sessionID] == nil {
		s.blobs[sessionID] = map[string][]Artifact{}
	}
	revisions := s.blobs[sessionID][name]
	rev := len(revisions)
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[sessionID][name] = append(revisions, Artifact{MIMEType: mimeType, Data: stored, Revision: rev})
	return rev, nil
}

// Load implements Service.
func (s *InMemoryService) Load(ctx context.Context, sessionID, name string, revision int) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revisions := s.blobs[sessionID][name]
	if len(revisions) == 0 {
		return nil, fmt.Errorf("artifacts: %q not found in session %s", name, sessionID)
	}
	if revision < 0 {
		revision = len(revisions) - 1
	}
	if revision >= len(revisions) {
		return nil, fmt.Errorf("artifacts: %q has no revision %d", name, revision)
	}
	a := revisions[revision]
	return &a, nil
}

// List implements Service.
func (s *InMemoryService) List(ctx context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.blobs[sessionID] {
		names = append(names, name)
	}
	return names, nil
}
