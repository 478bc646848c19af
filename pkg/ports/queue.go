package ports

import (
	"context"
	"time"
)

// SyncEntry is one remote write waiting in the sync queue.
type SyncEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Epoch     int64     `json:"epoch"`
	Seq       uint64    `json:"seq"`
	Payload   []byte    `json:"payload"`
	Attempts  int       `json:"attempts"`
	NextRetry time.Time `json:"next_retry"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncQueue is the durable local record of writes not yet applied to the remote store.
type SyncQueue interface {
	// Enqueue appends an entry. Implementations assign ID when it is empty.
	Enqueue(ctx context.Context, entry SyncEntry) (SyncEntry, error)

	// Pending returns all queued entries in submission (FIFO) order.
	Pending(ctx context.Context) ([]SyncEntry, error)

	// Ack removes an entry after it was applied.
	Ack(ctx context.Context, id string) error

	// Retry records a renewed failure: increments attempts and sets the next retry time.
	Retry(ctx context.Context, id string, next time.Time) error

	// Len returns the number of queued entries.
	Len(ctx context.Context) (int, error)
}
