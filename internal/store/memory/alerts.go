package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// AlertStore is an in-memory alert.Store with the same conditional
// update semantics as the postgres implementation.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert
}

func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: make(map[string]*alert.Alert)}
}

func (s *AlertStore) Create(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.ID]; exists {
		return fmt.Errorf("alert %s already exists", a.ID)
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *AlertStore) Get(_ context.Context, id string) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *AlertStore) HasActive(_ context.Context, eventID, alertType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.EventID == eventID && a.AlertType == alertType &&
			(a.Status == alert.StatusPending || a.Status == alert.StatusDelivered) {
			return true, nil
		}
	}
	return false, nil
}

func (s *AlertStore) DuePending(_ context.Context, now time.Time, limit int) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*alert.Alert
	for _, a := range s.alerts {
		if a.Status == alert.StatusPending && !a.ScheduledAt.After(now) {
			cp := *a
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *AlertStore) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.Status != alert.StatusPending {
		return false, nil
	}
	a.Status = alert.StatusDelivered
	a.DeliveredAt = &at
	return true, nil
}

func (s *AlertStore) MarkCancelled(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.Status != alert.StatusPending {
		return false, nil
	}
	a.Status = alert.StatusCancelled
	a.CancelledAt = &at
	return true, nil
}
