// Package memory defines the long-term memory service interface and an
// in-memory implementation. Sessions are ingested whole; search is substring
// based in the reference implementation, with real backends free to use
// vector retrieval behind the same contract.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// Entry is one retrievable memory.
type Entry struct {
	AppName   string
	UserID    string
	SessionID string
	Text      string
}

// Service is the memory contract consumed by tool contexts. Implementations
// define their own concurrency guarantees; the in-memory service is safe for
// concurrent use.
type Service interface {
	// AddSession ingests the text of a session's events for the user.
	AddSession(ctx context.Context, appName, userID, sessionID string, events []*models.Event) error

	// Search returns the texts of entries relevant to query.
	Search(ctx context.Context, appName, userID, query string) ([]string, error)
}

// InMemoryService is the reference Service.
type InMemoryService struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemoryService creates an empty memory service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{}
}

// AddSession implements Service.
func (s *InMemoryService) AddSession(ctx context.Context, appName, userID, sessionID string, events []*models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		text := ev.LlmResponse.Content.Text()
		if text == "" {
			continue
		}
		s.entries = append(s.entries, Entry{
			AppName:   appName,
			UserID:    userID,
			SessionID: sessionID,
			Text:      text,
		})
	}
	return nil
}

// Search implements Service with case-insensitive substring matching.
func (s *InMemoryService) Search(ctx context.Context, appName, userID, query string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(query)
	var hits []string
	for _, e := range s.entries {
		if e.AppName != appName || e.UserID != userID {
			continue
		}
		if strings.Contains(strings.ToLower(e.Text), needle) {
			hits = append(hits, e.Text)
		}
	}
	return hits, nil
}
