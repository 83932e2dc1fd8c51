package pending

import (
	"context"
	"sync"
)

// MemoryQueue is the in-process Queue used for tests and single-instance
// deployments.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string][]Entry)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, key string, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries[key] = append(q.entries[key], e)
	return nil
}

func (q *MemoryQueue) Drain(ctx context.Context, key string) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries[key]
	delete(q.entries, key)
	return entries, nil
}

func (q *MemoryQueue) Restore(ctx context.Context, key string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Restored entries go to the front: they predate anything queued since.
	q.entries[key] = append(append([]Entry(nil), entries...), q.entries[key]...)
	return nil
}

func (q *MemoryQueue) Peek(ctx context.Context, key string) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]Entry(nil), q.entries[key]...), nil
}
