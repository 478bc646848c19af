package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/aretw0/blueprint/pkg/recovery"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Source names the store a session was loaded from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Loaded is a recovered session and where it came from.
type Loaded struct {
	Session  *domain.Session
	Source   Source
	Warnings []string
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access. Locks are reference counted so
// unused entries are garbage collected.
type Manager struct {
	local     ports.RecordStore
	remote    ports.RecordStore
	coord     *persistence.Coordinator
	validator *recovery.Validator
	clock     clockwork.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Option configures the Manager.
type Option func(*Manager)

// WithRemote enables the remote fallback on load.
func WithRemote(remote ports.RecordStore) Option {
	return func(m *Manager) {
		m.remote = remote
	}
}

// WithValidator sets the recovery validator.
func WithValidator(v *recovery.Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithClock sets the clock used for creation and reset timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session repository over the local store. Saves go
// through coord, which must write to the same local store.
func NewManager(local ports.RecordStore, coord *persistence.Coordinator, opts ...Option) *Manager {
	m := &Manager{
		local:     local,
		coord:     coord,
		validator: recovery.New(),
		clock:     clockwork.NewRealClock(),
		logger:    logging.NewNop(),
		locks:     make(map[string]*lockEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session with a random id and persists it.
func (m *Manager) Create(ctx context.Context) (*domain.Session, error) {
	s := domain.NewSession(uuid.NewString(), m.clock.Now())
	if err := m.coord.Schedule(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	return s, nil
}

// Load reads the session from the local store, or from the remote store when
// the local copy is missing or unrecoverable.
func (m *Manager) Load(ctx context.Context, sessionID string) (*Loaded, error) {
	loaded, localErr := m.loadFrom(ctx, m.local, SourceLocal, sessionID)
	if localErr == nil {
		return loaded, nil
	}
	if !errors.Is(localErr, domain.ErrSessionNotFound) && !recovery.IsInvalid(localErr) {
		return nil, localErr
	}
	if recovery.IsInvalid(localErr) {
		m.logger.Warn("Local session record is unrecoverable", "session_id", sessionID, "err", localErr)
	}
	if m.remote == nil {
		return nil, localErr
	}

	loaded, err := m.loadFrom(ctx, m.remote, SourceRemote, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, localErr
		}
		return nil, err
	}
	m.logger.Info("Session restored from remote store", "session_id", sessionID)
	return loaded, nil
}

func (m *Manager) loadFrom(ctx context.Context, store ports.RecordStore, src Source, sessionID string) (*Loaded, error) {
	raw, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res, err := m.validator.Validate(raw)
	if err != nil {
		var verr *recovery.ValidationError
		if errors.As(err, &verr) && verr.SessionID == "" {
			verr.SessionID = sessionID
		}
		return nil, err
	}
	if res.Session.ID != sessionID {
		return nil, &recovery.ValidationError{
			SessionID:   sessionID,
			Diagnostics: []string{fmt.Sprintf("id %q does not match storage key", res.Session.ID)},
		}
	}
	return &Loaded{Session: res.Session, Source: src, Warnings: res.Warnings}, nil
}

// Save schedules a write of the session.
func (m *Manager) Save(ctx context.Context, s *domain.Session) error {
	return m.coord.Schedule(ctx, s)
}

// Delete removes the session from both stores. Pending and queued remote
// writes of the session are discarded first so none of them recreates it.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		localOnly := m.coord.LocalOnly(sessionID)
		var errs []error
		if err := m.coord.Forget(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
		err := m.coord.RunExclusive(ctx, sessionID, func(ctx context.Context) error {
			if err := m.local.Delete(ctx, sessionID); err != nil {
				errs = append(errs, fmt.Errorf("local: %w", err))
			}
			if m.remote != nil && !localOnly {
				if err := m.remote.Delete(ctx, sessionID); err != nil {
					errs = append(errs, fmt.Errorf("remote: %w", err))
				}
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

// List returns the ids known to either store, sorted. A failing remote store
// only reduces the listing to local sessions.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	ids, err := m.local.List(ctx)
	if err != nil {
		return nil, err
	}
	if m.remote != nil {
		remote, err := m.remote.List(ctx)
		if err != nil {
			m.logger.Warn("Remote session listing failed", "err", err)
		}
		ids = append(ids, remote...)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes fn while holding the in-process lock for the session.
// Cross-replica exclusivity of writes is the coordinator's concern.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
