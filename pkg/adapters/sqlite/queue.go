package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/blueprint/pkg/ports"
	_ "modernc.org/sqlite"
)

// Queue implements ports.SyncQueue on SQLite. Entries are ordered by an
// autoincrement rowid, which doubles as the entry ID.
type Queue struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the queue database at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	q := &Queue{db: db}
	if err := q.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return q, nil
}

func (q *Queue) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		payload BLOB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_session ON sync_queue(session_id);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Enqueue appends an entry. The ID is always assigned by the database.
func (q *Queue) Enqueue(ctx context.Context, entry ports.SyncEntry) (ports.SyncEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		"INSERT INTO sync_queue (session_id, epoch, seq, payload, attempts, next_retry, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		entry.SessionID, entry.Epoch, int64(entry.Seq), entry.Payload, entry.Attempts,
		unixNano(entry.NextRetry), unixNano(entry.CreatedAt),
	)
	if err != nil {
		return entry, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("read entry id: %w", err)
	}
	entry.ID = strconv.FormatInt(id, 10)
	return entry, nil
}

// Pending returns all entries in FIFO order.
func (q *Queue) Pending(ctx context.Context) ([]ports.SyncEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx,
		"SELECT id, session_id, epoch, seq, payload, attempts, next_retry, created_at FROM sync_queue ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]ports.SyncEntry, error) {
	var entries []ports.SyncEntry
	for rows.Next() {
		var (
			e                  ports.SyncEntry
			id, seq            int64
			nextRetry, created int64
		)
		if err := rows.Scan(&id, &e.SessionID, &e.Epoch, &seq, &e.Payload, &e.Attempts, &nextRetry, &created); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ID = strconv.FormatInt(id, 10)
		e.Seq = uint64(seq)
		e.NextRetry = fromUnixNano(nextRetry)
		e.CreatedAt = fromUnixNano(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Ack deletes the entry. Unknown or malformed IDs are ignored.
func (q *Queue) Ack(ctx context.Context, id string) error {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", rowID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Retry increments the attempt counter and stores the next retry time.
func (q *Queue) Retry(ctx context.Context, id string, next time.Time) error {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx,
		"UPDATE sync_queue SET attempts = attempts + 1, next_retry = ? WHERE id = ?", unixNano(next), rowID); err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
