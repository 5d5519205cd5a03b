package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Queue used in tests and as the degraded
// fallback when Redis is unavailable.
type Memory struct {
	mu    sync.Mutex
	items map[string]time.Time
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]time.Time)}
}

func (q *Memory) Enqueue(_ context.Context, key string, dueAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[key] = dueAt
	return nil
}

func (q *Memory) PopDue(_ context.Context, max time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	type entry struct {
		key string
		due time.Time
	}
	var due []entry
	for k, at := range q.items {
		if !at.After(max) {
			due = append(due, entry{k, at})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	keys := make([]string, 0, len(due))
	for _, e := range due {
		delete(q.items, e.key)
		keys = append(keys, e.key)
	}
	return keys, nil
}

func (q *Memory) Remove(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, key)
	return nil
}

// Len returns how many keys are currently indexed.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
