package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/escalation"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// StepStore is an in-memory escalation.StepStore.
type StepStore struct {
	mu    sync.RWMutex
	steps map[string]*escalation.Step
}

func NewStepStore() *StepStore {
	return &StepStore{steps: make(map[string]*escalation.Step)}
}

func (s *StepStore) Create(_ context.Context, step *escalation.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.steps[step.ID]; exists {
		return fmt.Errorf("escalation step %s already exists", step.ID)
	}
	cp := *step
	s.steps[step.ID] = &cp
	return nil
}

func (s *StepStore) Get(_ context.Context, id string) (*escalation.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (s *StepStore) UpdateStatus(_ context.Context, id string, from, to escalation.StepStatus, executedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if step.Status != from {
		return false, nil
	}
	step.Status = to
	if executedAt != nil {
		step.ExecutedAt = executedAt
	}
	return true, nil
}

func (s *StepStore) CancelPending(_ context.Context, incidentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, step := range s.steps {
		if step.IncidentID == incidentID && step.Status == escalation.StepPending {
			step.Status = escalation.StepCancelled
			ids = append(ids, step.ID)
		}
	}
	return ids, nil
}

func (s *StepStore) Pending(_ context.Context) ([]*escalation.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*escalation.Step
	for _, step := range s.steps {
		if step.Status == escalation.StepPending {
			cp := *step
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ScheduledAt.Before(pending[j].ScheduledAt) })
	return pending, nil
}

// StepsFor returns every step of the incident, ordered by level. Test
// helper.
func (s *StepStore) StepsFor(incidentID string) []*escalation.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*escalation.Step
	for _, step := range s.steps {
		if step.IncidentID == incidentID {
			cp := *step
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
