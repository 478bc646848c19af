package ports

import (
	"context"
)

// RecordStore persists serialized session records keyed by session ID.
// Records are opaque bytes so that recovery can inspect malformed data and
// middleware (encryption) can wrap the payload.
type RecordStore interface {
	// Save persists the record for a given session ID, replacing any previous one.
	Save(ctx context.Context, sessionID string, record []byte) error

	// Load retrieves the record for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
