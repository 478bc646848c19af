package persistence_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/adapters/memory"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// flakyStore fails scripted Save calls before delegating to memory.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures []error
	always   error
	saves    int
}

func newFlaky(failures ...error) *flakyStore {
	return &flakyStore{Store: memory.NewStore(), failures: failures}
}

func (s *flakyStore) Save(ctx context.Context, id string, record []byte) error {
	s.mu.Lock()
	s.saves++
	err := s.always
	if err == nil && len(s.failures) > 0 {
		err, s.failures = s.failures[0], s.failures[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, id, record)
}

func (s *flakyStore) setAlways(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.always = err
}

func (s *flakyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type notices struct {
	mu   sync.Mutex
	list []domain.Notice
}

func (n *notices) Notify(_ context.Context, notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, notice)
}

func (n *notices) kinds() []domain.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.NoticeKind
	for _, x := range n.list {
		out = append(out, x.Kind)
	}
	return out
}

var unavailable = fmt.Errorf("dial tcp: %w", domain.ErrUnavailable)

func session(id, topic string) *domain.Session {
	s := domain.NewSession(id, t0)
	s.Commit("topic1.value", topic, domain.ProvenanceUser, false, t0)
	return s
}

func storedTopic(t *testing.T, store ports.RecordStore, id string) string {
	t.Helper()
	record, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	var s domain.Session
	require.NoError(t, json.Unmarshal(record, &s))
	return s.Value("topic1.value")
}

type fixture struct {
	clock  *clockwork.FakeClock
	local  *memory.Store
	remote *flakyStore
	queue  *memory.Queue
	notes  *notices
	c      *persistence.Coordinator
}

func newFixture(remote *flakyStore, opts ...persistence.Option) *fixture {
	f := &fixture{
		clock:  clockwork.NewFakeClockAt(t0),
		local:  memory.NewStore(),
		remote: remote,
		queue:  memory.NewQueue(),
		notes:  &notices{},
	}
	base := []persistence.Option{
		persistence.WithRemote(remote),
		persistence.WithQueue(f.queue),
		persistence.WithNotifier(f.notes),
		persistence.WithClock(f.clock),
		persistence.WithDrainRate(rate.Inf, 1),
		persistence.WithPolicy(persistence.Policy{Base: 100 * time.Millisecond, Multiplier: 2, Max: time.Second, MaxAttempts: 3}),
	}
	f.c = persistence.New(f.local, append(base, opts...)...)
	return f
}

// saveAsync runs Save in the background and returns its result channel.
func (f *fixture) saveAsync(s *domain.Session) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- f.c.Save(context.Background(), s) }()
	return ch
}

func (f *fixture) advanceWhenWaiting(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(d)
}

func TestSave_LocalAndRemote(t *testing.T) {
	f := newFixture(newFlaky())

	require.NoError(t, f.c.Save(context.Background(), session("p1", "Solar ovens")))
	assert.Equal(t, "Solar ovens", storedTopic(t, f.local, "p1"))
	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"))
	assert.False(t, f.c.LocalOnly("p1"))
}

func TestSave_TransientRetriesWithBackoff(t *testing.T) {
	f := newFixture(newFlaky(unavailable, unavailable))

	result := f.saveAsync(session("p1", "Solar ovens"))
	f.advanceWhenWaiting(t, 100*time.Millisecond)
	f.advanceWhenWaiting(t, 200*time.Millisecond)

	require.NoError(t, <-result)
	assert.Equal(t, 3, f.remote.saveCount())
	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"))
	assert.Empty(t, f.notes.kinds(), "retried failures are silent")
}

func TestSave_ExhaustedRetriesQueueThePayload(t *testing.T) {
	remote := newFlaky()
	remote.setAlways(unavailable)
	f := newFixture(remote)

	result := f.saveAsync(session("p1", "Solar ovens"))
	f.advanceWhenWaiting(t, 100*time.Millisecond)
	f.advanceWhenWaiting(t, 200*time.Millisecond)

	err := <-result
	var perr *persistence.PersistError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, persistence.ClassTransient, perr.Class)
	assert.Equal(t, 3, perr.Attempts)

	assert.Equal(t, "Solar ovens", storedTopic(t, f.local, "p1"), "local copy is never lost")
	pending, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].SessionID)
	assert.Equal(t, []domain.NoticeKind{domain.NoticePersistTransient}, f.notes.kinds())

	remote.setAlways(nil)
	report, err := f.c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Applied: 1}, report)
	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"))
}

func TestSave_PermanentFailureGoesLocalOnly(t *testing.T) {
	remote := newFlaky()
	remote.setAlways(fmt.Errorf("NOPERM: %w", domain.ErrPermissionDenied))
	f := newFixture(remote)
	ctx := context.Background()

	err := f.c.Save(ctx, session("p1", "Solar ovens"))
	assert.True(t, persistence.IsPermanent(err))
	assert.True(t, f.c.LocalOnly("p1"))
	assert.Equal(t, 1, remote.saveCount(), "permanent failures are not retried")

	require.NoError(t, f.c.Save(ctx, session("p1", "Wind turbines")))
	assert.Equal(t, "Wind turbines", storedTopic(t, f.local, "p1"))
	assert.Equal(t, 1, remote.saveCount())
	assert.Equal(t, []domain.NoticeKind{domain.NoticePersistPermanent}, f.notes.kinds(), "surfaced once")

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSave_SupersededRetryIsDropped(t *testing.T) {
	f := newFixture(newFlaky(unavailable))

	older := f.saveAsync(session("p1", "Solar ovens"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	require.NoError(t, f.c.Save(context.Background(), session("p1", "Wind turbines")))
	f.clock.Advance(100 * time.Millisecond)

	require.NoError(t, <-older)
	assert.Equal(t, 2, f.remote.saveCount())
	assert.Equal(t, "Wind turbines", storedTopic(t, f.remote, "p1"))
}

func TestSchedule_DebouncesRemoteWrites(t *testing.T) {
	f := newFixture(newFlaky(), persistence.WithDebounce(800*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, f.c.Schedule(ctx, session("p1", "Solar")))
	f.clock.Advance(400 * time.Millisecond)
	require.NoError(t, f.c.Schedule(ctx, session("p1", "Solar ovens")))
	assert.Equal(t, "Solar ovens", storedTopic(t, f.local, "p1"), "local write is immediate")

	f.clock.Advance(799 * time.Millisecond)
	assert.Zero(t, f.remote.saveCount())

	f.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return f.remote.saveCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.c.Flush(ctx))
	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"))
	assert.Equal(t, 1, f.remote.saveCount(), "superseded edits never reach the remote")
}

func TestFlush_WritesPendingSaves(t *testing.T) {
	f := newFixture(newFlaky(), persistence.WithDebounce(time.Minute))
	ctx := context.Background()

	require.NoError(t, f.c.Schedule(ctx, session("p1", "Solar ovens")))
	require.NoError(t, f.c.Schedule(ctx, session("p2", "Wind turbines")))
	require.NoError(t, f.c.Flush(ctx))

	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"))
	assert.Equal(t, "Wind turbines", storedTopic(t, f.remote, "p2"))
}

func TestSave_ConcurrentWritesAreSerialized(t *testing.T) {
	local := &recordingStore{Store: memory.NewStore()}
	c := persistence.New(local)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Save(context.Background(), session("p1", fmt.Sprintf("topic %d", i))))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, local.writes)
	assert.Zero(t, local.overlaps, "writes for one session never overlap")
}

type recordingStore struct {
	*memory.Store
	mu       sync.Mutex
	active   int
	writes   int
	overlaps int
}

func (s *recordingStore) Save(ctx context.Context, id string, record []byte) error {
	s.mu.Lock()
	s.active++
	s.writes++
	if s.active > 1 {
		s.overlaps++
	}
	s.mu.Unlock()

	time.Sleep(time.Millisecond)
	err := s.Store.Save(ctx, id, record)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return err
}

func enqueue(t *testing.T, q *memory.Queue, s *domain.Session, seq uint64) {
	t.Helper()
	payload, err := persistence.Encode(s)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), ports.SyncEntry{
		SessionID: s.ID, Epoch: s.Epoch, Seq: seq, Payload: payload, CreatedAt: t0,
	})
	require.NoError(t, err)
}

func TestDrain_FailureDefersLaterEntriesOfSession(t *testing.T) {
	f := newFixture(newFlaky(unavailable))
	ctx := context.Background()
	enqueue(t, f.queue, session("p1", "Solar"), 1)
	enqueue(t, f.queue, session("p2", "Wind turbines"), 1)
	enqueue(t, f.queue, session("p1", "Solar ovens"), 2)

	report, err := f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Applied: 1, Failed: 1, Deferred: 1, Remaining: 2}, report)
	assert.Equal(t, "Wind turbines", storedTopic(t, f.remote, "p2"))

	report, err = f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Deferred: 2, Remaining: 2}, report, "backoff not elapsed")

	f.clock.Advance(100 * time.Millisecond)
	report, err = f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Applied: 2}, report)
	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"), "applied in enqueue order")
}

func TestDrain_SkipsEntriesOfOlderEpoch(t *testing.T) {
	f := newFixture(newFlaky())
	ctx := context.Background()

	old := session("p1", "Solar ovens")
	reset := old.Reset(t0)
	reset.Commit("topic1.value", "Wind turbines", domain.ProvenanceUser, false, t0)
	enqueue(t, f.queue, old, 50)
	enqueue(t, f.queue, reset, 1)

	report, err := f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Applied: 1, Superseded: 1}, report)
	assert.Equal(t, "Wind turbines", storedTopic(t, f.remote, "p1"))
	assert.Equal(t, 1, f.remote.saveCount())
}

func TestDrain_NewerSaveSupersedesQueuedEntry(t *testing.T) {
	f := newFixture(newFlaky())
	ctx := context.Background()

	enqueue(t, f.queue, session("p1", "Solar"), 1)
	require.NoError(t, f.c.Save(ctx, session("p1", "Solar ovens")))

	report, err := f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Superseded: 1}, report)
	assert.Equal(t, "Solar ovens", storedTopic(t, f.remote, "p1"))
}

func TestDrain_PermanentFailureDropsEntries(t *testing.T) {
	remote := newFlaky()
	remote.setAlways(fmt.Errorf("NOPERM: %w", domain.ErrPermissionDenied))
	f := newFixture(remote)
	ctx := context.Background()
	enqueue(t, f.queue, session("p1", "Solar"), 1)
	enqueue(t, f.queue, session("p1", "Solar ovens"), 2)

	report, err := f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Failed: 1, Deferred: 1, Remaining: 1}, report)
	assert.True(t, f.c.LocalOnly("p1"))

	for range 3 {
		f.clock.Advance(time.Minute)
		_, err = f.c.Drain(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, remote.saveCount(), "permanent failures are not retried")
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []domain.NoticeKind{domain.NoticePersistPermanent}, f.notes.kinds())
}

func TestForget_DropsScheduledAndQueuedWrites(t *testing.T) {
	f := newFixture(newFlaky(), persistence.WithDebounce(time.Second))
	ctx := context.Background()
	enqueue(t, f.queue, session("p1", "Solar"), 1)
	enqueue(t, f.queue, session("p2", "Wind turbines"), 1)
	require.NoError(t, f.c.Schedule(ctx, session("p1", "Solar ovens")))

	require.NoError(t, f.c.Forget(ctx, "p1"))
	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.c.Flush(ctx))
	require.NoError(t, f.c.Save(ctx, session("p1", "Solar ovens")))

	report, err := f.c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.DrainReport{Applied: 1}, report)
	assert.Equal(t, 1, f.remote.saveCount(), "only the other session reaches the remote")
	_, err = f.remote.Load(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
