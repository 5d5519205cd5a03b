package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPopDue(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	q.Enqueue(ctx, "c", base.Add(3*time.Minute))
	q.Enqueue(ctx, "a", base.Add(time.Minute))
	q.Enqueue(ctx, "b", base.Add(2*time.Minute))
	q.Enqueue(ctx, "later", base.Add(time.Hour))

	keys, err := q.PopDue(ctx, base.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("popped %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s (earliest first)", i, keys[i], want[i])
		}
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d after pop, want 1", q.Len())
	}

	// Popped keys do not come back.
	keys, _ = q.PopDue(ctx, base.Add(5*time.Minute), 10)
	if len(keys) != 0 {
		t.Errorf("second pop returned %v", keys)
	}
}

func TestMemoryPopDueLimit(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	base := time.Now()
	for _, k := range []string{"a", "b", "c"} {
		q.Enqueue(ctx, k, base)
	}
	keys, _ := q.PopDue(ctx, base, 2)
	if len(keys) != 2 {
		t.Fatalf("popped %d keys, want 2", len(keys))
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 left behind", q.Len())
	}
}

func TestMemoryEnqueueOverwritesDueTime(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	base := time.Now()

	q.Enqueue(ctx, "x", base.Add(time.Hour))
	q.Enqueue(ctx, "x", base) // reschedule earlier
	keys, _ := q.PopDue(ctx, base, 10)
	if len(keys) != 1 || keys[0] != "x" {
		t.Errorf("popped %v, want [x]", keys)
	}
}

func TestMemoryRemove(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	base := time.Now()

	q.Enqueue(ctx, "x", base)
	if err := q.Remove(ctx, "x"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := q.Remove(ctx, "never-there"); err != nil {
		t.Fatalf("Remove(missing): %v", err)
	}
	keys, _ := q.PopDue(ctx, base, 10)
	if len(keys) != 0 {
		t.Errorf("popped %v after remove", keys)
	}
}
