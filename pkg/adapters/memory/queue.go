package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/google/uuid"
)

// Queue implements ports.SyncQueue in memory. It is not durable; use it in
// tests or when the host has no local disk.
type Queue struct {
	mu      sync.Mutex
	entries []ports.SyncEntry
}

// NewQueue creates an empty in-memory sync queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an entry, assigning a random ID when none is set.
func (q *Queue) Enqueue(ctx context.Context, entry ports.SyncEntry) (ports.SyncEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Payload = slices.Clone(entry.Payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	return entry, nil
}

// Pending returns a copy of the queue in FIFO order.
func (q *Queue) Pending(ctx context.Context) ([]ports.SyncEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ports.SyncEntry, len(q.entries))
	for i, e := range q.entries {
		e.Payload = slices.Clone(e.Payload)
		out[i] = e
	}
	return out, nil
}

// Ack removes the entry. Unknown IDs are ignored.
func (q *Queue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = slices.DeleteFunc(q.entries, func(e ports.SyncEntry) bool { return e.ID == id })
	return nil
}

// Retry bumps the attempt counter in place; the entry keeps its position.
func (q *Queue) Retry(ctx context.Context, id string, next time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Attempts++
			q.entries[i].NextRetry = next
		}
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}
