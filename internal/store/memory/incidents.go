package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/incident"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// IncidentStore is an in-memory incident.Store.
type IncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
}

func NewIncidentStore() *IncidentStore {
	return &IncidentStore{incidents: make(map[string]*incident.Incident)}
}

func (s *IncidentStore) Create(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return fmt.Errorf("incident %s already exists", inc.ID)
	}
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

func (s *IncidentStore) Get(_ context.Context, id string) (*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (s *IncidentStore) HasActiveForEvent(_ context.Context, eventID, incType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents {
		if inc.EventID == eventID && inc.Type == incType && !inc.State.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *IncidentStore) UpdateState(_ context.Context, id string, from, to incident.State, note string, resolvedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if inc.State != from {
		return false, nil
	}
	inc.State = to
	if note != "" {
		inc.ResolutionNote = note
	}
	if resolvedAt != nil {
		inc.ResolvedAt = resolvedAt
	}
	return true, nil
}
