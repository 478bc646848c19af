package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Target names the store a write went to.
type Target string

const (
	TargetLocal  Target = "local"
	TargetRemote Target = "remote"
)

// Hooks observe the coordinator. Every hook is optional and must not block.
type Hooks struct {
	OnWrite   func(target Target, err error)
	OnEnqueue func(sessionID string)
	OnDrain   func(report DrainReport)
}

// version orders writes of one session: a reset bumps the epoch, every save
// takes a fresh sequence number.
type version struct {
	epoch int64
	seq   uint64
}

// tombstone outranks every version a deleted session could still have in flight.
var tombstone = version{epoch: math.MaxInt64, seq: math.MaxUint64}

func (v version) after(o version) bool {
	return v.epoch > o.epoch || (v.epoch == o.epoch && v.seq > o.seq)
}

// scheduled is a debounced remote write waiting for its timer.
type scheduled struct {
	timer  clockwork.Timer
	record []byte
	v      version
	done   chan struct{}
}

// Coordinator serializes and persists session writes.
type Coordinator struct {
	local    ports.RecordStore
	remote   ports.RecordStore
	queue    ports.SyncQueue
	locker   ports.DistributedLocker
	notifier ports.Notifier
	clock    clockwork.Clock
	policy   Policy
	debounce time.Duration
	limiter  *rate.Limiter
	hooks    Hooks
	logger   *slog.Logger

	mu        sync.Mutex
	lanes     map[string]*lane
	timers    map[string]*scheduled
	inflight  map[*scheduled]struct{}
	issued    map[string]version
	applied   map[string]version
	localOnly map[string]bool
	lastSeq   uint64
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithRemote sets the remote store. Without one, saves are local only.
func WithRemote(remote ports.RecordStore) Option {
	return func(c *Coordinator) {
		c.remote = remote
	}
}

// WithQueue sets the durable sync queue used when remote retries are exhausted.
func WithQueue(queue ports.SyncQueue) Option {
	return func(c *Coordinator) {
		c.queue = queue
	}
}

// WithLocker enables distributed locking around each write.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Coordinator) {
		c.locker = locker
	}
}

// WithNotifier sets the degraded-mode notification channel.
func WithNotifier(n ports.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithClock sets the clock used for backoff, debounce and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithPolicy sets the retry policy for transient remote failures.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithDebounce sets the inactivity window of Schedule.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		c.debounce = d
	}
}

// WithDrainRate limits how fast queued writes are replayed.
func WithDrainRate(r rate.Limit, burst int) Option {
	return func(c *Coordinator) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithHooks registers observers.
func WithHooks(h Hooks) Option {
	return func(c *Coordinator) {
		c.hooks = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a coordinator writing to the local durable store.
func New(local ports.RecordStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:     local,
		notifier:  ports.NotifierFunc(func(context.Context, domain.Notice) {}),
		clock:     clockwork.NewRealClock(),
		policy:    DefaultPolicy(),
		debounce:  800 * time.Millisecond,
		limiter:   rate.NewLimiter(rate.Limit(5), 1),
		logger:    logging.NewNop(),
		lanes:     make(map[string]*lane),
		timers:    make(map[string]*scheduled),
		inflight:  make(map[*scheduled]struct{}),
		issued:    make(map[string]version),
		applied:   make(map[string]version),
		localOnly: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serializes a session record.
func Encode(s *domain.Session) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

// LocalOnly reports whether the session was degraded to local-only mode by a
// permanent remote failure.
func (c *Coordinator) LocalOnly(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localOnly[sessionID]
}

// Save writes the session locally, then to the remote store with retries.
// It blocks through the backoff delays; use Schedule on interactive paths.
// A returned *PersistError describes a remote failure; the local copy is
// already durable at that point.
func (c *Coordinator) Save(ctx context.Context, s *domain.Session) error {
	record, v, err := c.writeLocal(ctx, s)
	if err != nil {
		return err
	}
	return c.pushRemote(ctx, s.ID, record, v)
}

// Schedule writes the session locally right away and debounces the remote
// write: a newer Schedule for the same session within the window replaces it.
func (c *Coordinator) Schedule(ctx context.Context, s *domain.Session) error {
	record, v, err := c.writeLocal(ctx, s)
	if err != nil {
		return err
	}
	if c.remote == nil || c.LocalOnly(s.ID) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.timers[s.ID]; ok {
		prev.timer.Stop()
	}
	entry := &scheduled{record: record, v: v, done: make(chan struct{})}
	c.timers[s.ID] = entry
	entry.timer = c.clock.AfterFunc(c.debounce, func() { c.fire(s.ID, entry) })
	return nil
}

func (c *Coordinator) fire(sessionID string, entry *scheduled) {
	c.mu.Lock()
	if c.timers[sessionID] != entry {
		c.mu.Unlock()
		return
	}
	delete(c.timers, sessionID)
	c.inflight[entry] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, entry)
		c.mu.Unlock()
		close(entry.done)
	}()

	if err := c.pushRemote(context.Background(), sessionID, entry.record, entry.v); err != nil {
		c.logger.Debug("Debounced remote write failed", "session_id", sessionID, "err", err)
	}
}

// Flush runs every pending debounced write now and waits for writes already in flight.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	due := make(map[string]*scheduled, len(c.timers))
	for id, entry := range c.timers {
		entry.timer.Stop()
		due[id] = entry
	}
	c.timers = make(map[string]*scheduled)
	waiting := make([]chan struct{}, 0, len(c.inflight))
	for entry := range c.inflight {
		waiting = append(waiting, entry.done)
	}
	c.mu.Unlock()

	var errs []error
	for id, entry := range due {
		if err := c.pushRemote(ctx, id, entry.record, entry.v); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ch := range waiting {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) writeLocal(ctx context.Context, s *domain.Session) ([]byte, version, error) {
	record, err := Encode(s)
	if err != nil {
		return nil, version{}, err
	}
	v := c.issue(s.ID, s.Epoch)

	err = c.RunExclusive(ctx, s.ID, func(ctx context.Context) error {
		return c.local.Save(ctx, s.ID, record)
	})
	c.observeWrite(TargetLocal, err)
	if err != nil {
		return nil, v, fmt.Errorf("local save of session '%s' failed: %w", s.ID, err)
	}
	return record, v, nil
}

// issue hands out the next version. Sequence numbers are wall-clock based so
// they keep increasing across restarts, and strictly increasing within one.
func (c *Coordinator) issue(sessionID string, epoch int64) version {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.lastSeq + 1
	if now := c.clock.Now().UnixNano(); now > 0 && uint64(now) > seq {
		seq = uint64(now)
	}
	c.lastSeq = seq

	v := version{epoch: epoch, seq: seq}
	if v.after(c.issued[sessionID]) {
		c.issued[sessionID] = v
	}
	return v
}

// superseded reports whether a newer write of the session was issued or applied.
func (c *Coordinator) superseded(sessionID string, v version) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issued[sessionID].after(v) || c.applied[sessionID].after(v)
}

func (c *Coordinator) markApplied(sessionID string, v version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.after(c.applied[sessionID]) {
		c.applied[sessionID] = v
	}
}

func (c *Coordinator) pushRemote(ctx context.Context, sessionID string, record []byte, v version) error {
	if c.remote == nil || c.LocalOnly(sessionID) {
		return nil
	}

	var (
		lastErr  error
		attempts int
	)
	for attempts < c.policy.MaxAttempts {
		if c.superseded(sessionID, v) {
			c.logger.Debug("Dropped superseded remote write", "session_id", sessionID, "attempt", attempts)
			return nil
		}
		attempts++

		err := c.RunExclusive(ctx, sessionID, func(ctx context.Context) error {
			return c.saveRemote(ctx, sessionID, record, v)
		})
		if errors.Is(err, errSuperseded) {
			c.logger.Debug("Dropped superseded remote write", "session_id", sessionID, "attempt", attempts)
			return nil
		}
		c.observeWrite(TargetRemote, err)
		if err == nil {
			c.markApplied(sessionID, v)
			return nil
		}
		lastErr = err

		if Classify(err) == ClassPermanent {
			c.degrade(ctx, sessionID, err)
			return &PersistError{Class: ClassPermanent, SessionID: sessionID, Attempts: attempts, Err: err}
		}
		if ctx.Err() != nil || attempts >= c.policy.MaxAttempts {
			break
		}

		delay := c.policy.Delay(attempts)
		c.logger.Debug("Retrying remote write", "session_id", sessionID, "attempt", attempts, "delay", delay, "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	if c.superseded(sessionID, v) {
		return nil
	}
	return c.exhausted(context.WithoutCancel(ctx), sessionID, record, v, attempts, lastErr)
}

// errSuperseded aborts a remote write whose version lost the race while it
// waited for the session lane.
var errSuperseded = errors.New("remote write superseded")

// saveRemote writes record unless a newer version was issued meanwhile. It must
// run inside RunExclusive so the check and the write are not split by Forget.
func (c *Coordinator) saveRemote(ctx context.Context, sessionID string, record []byte, v version) error {
	if c.superseded(sessionID, v) {
		return errSuperseded
	}
	return c.remote.Save(ctx, sessionID, record)
}

// Forget supersedes every write of a deleted session: the debounced write is
// cancelled, later retries and in-flight writes are dropped and queued entries
// are acknowledged. The session's local-only state is cleared.
func (c *Coordinator) Forget(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if entry, ok := c.timers[sessionID]; ok {
		entry.timer.Stop()
		delete(c.timers, sessionID)
	}
	c.issued[sessionID] = tombstone
	delete(c.applied, sessionID)
	delete(c.localOnly, sessionID)
	c.mu.Unlock()

	if c.queue == nil {
		return nil
	}
	entries, err := c.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync queue: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.SessionID != sessionID {
			continue
		}
		if err := c.queue.Ack(ctx, e.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to acknowledge queued write: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// degrade switches the session to local-only mode. The notice is emitted once.
func (c *Coordinator) degrade(ctx context.Context, sessionID string, err error) {
	c.mu.Lock()
	first := !c.localOnly[sessionID]
	c.localOnly[sessionID] = true
	c.mu.Unlock()

	if !first {
		return
	}
	c.logger.Warn("Remote store rejected session; continuing local-only",
		"session_id", sessionID, "class", ClassPermanent, "err", err)
	c.notifier.Notify(ctx, domain.Notice{
		Kind:      domain.NoticePersistPermanent,
		SessionID: sessionID,
		Message:   "remote storage refused the session; changes are kept on this device only",
		At:        c.clock.Now(),
	})
}

func (c *Coordinator) exhausted(ctx context.Context, sessionID string, record []byte, v version, attempts int, cause error) error {
	perr := &PersistError{Class: ClassTransient, SessionID: sessionID, Attempts: attempts, Err: cause}
	c.logger.Warn("Remote write retries exhausted", "session_id", sessionID, "class", ClassTransient, "attempt", attempts, "err", cause)

	msg := "remote storage unavailable; changes are saved locally"
	if c.queue != nil {
		_, err := c.queue.Enqueue(ctx, ports.SyncEntry{
			SessionID: sessionID,
			Epoch:     v.epoch,
			Seq:       v.seq,
			Payload:   record,
			Attempts:  attempts,
			CreatedAt: c.clock.Now(),
		})
		if err != nil {
			c.logger.Warn("Failed to queue remote write", "session_id", sessionID, "err", err)
			return errors.Join(perr, fmt.Errorf("failed to queue remote write: %w", err))
		}
		if c.hooks.OnEnqueue != nil {
			c.hooks.OnEnqueue(sessionID)
		}
		msg += " and queued for sync"
	}

	c.notifier.Notify(ctx, domain.Notice{
		Kind:      domain.NoticePersistTransient,
		SessionID: sessionID,
		Message:   msg,
		At:        c.clock.Now(),
	})
	return perr
}

func (c *Coordinator) observeWrite(target Target, err error) {
	if c.hooks.OnWrite != nil {
		c.hooks.OnWrite(target, err)
	}
}
