// Package memory provides in-process store implementations mirroring
// the conditional-update contract of the postgres stores. Used in
// tests and when running without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// EventStore is an in-memory event.Store. Payloads are persisted as
// encoded JSON, matching the JSONB round-trip of the postgres store.
type EventStore struct {
	mu     sync.RWMutex
	events map[string]*event.Event
	raw    map[string][]byte // payload as stored
}

func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]*event.Event),
		raw:    make(map[string][]byte),
	}
}

func (s *EventStore) Create(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return fmt.Errorf("event %s: %w", ev.ID, store.ErrAlreadyExists)
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	cp := *ev
	s.events[ev.ID] = &cp
	s.raw[ev.ID] = payload
	return nil
}

func (s *EventStore) Get(_ context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ev
	if raw := s.raw[id]; raw != nil {
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		cp.Payload = payload
	}
	return &cp, nil
}
