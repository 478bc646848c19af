package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/adapters/memory"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/recovery"
	"github.com/aretw0/blueprint/pkg/session"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	local, remote *memory.Store
	coord         *persistence.Coordinator
	mgr           *session.Manager
}

func newFixture() *fixture {
	clock := clockwork.NewFakeClockAt(t0)
	f := &fixture{local: memory.NewStore(), remote: memory.NewStore()}
	f.coord = persistence.New(f.local, persistence.WithRemote(f.remote), persistence.WithClock(clock))
	f.mgr = session.NewManager(f.local, f.coord, session.WithRemote(f.remote), session.WithClock(clock))
	return f
}

func store(t *testing.T, s interface {
	Save(context.Context, string, []byte) error
}, sess *domain.Session) {
	t.Helper()
	data, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sess.ID, data))
}

func TestManager_CreatePersistsLocally(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FirstStage, s.Stage)
	assert.True(t, t0.Equal(s.CreatedAt))

	loaded, err := f.mgr.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.SourceLocal, loaded.Source)
	assert.Equal(t, s.ID, loaded.Session.ID)
}

func TestManager_LoadFallsBackToRemote(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	remote := domain.NewSession("p1", t0)
	remote.Commit("topic1.value", "Solar ovens", domain.ProvenanceUser, false, t0)
	store(t, f.remote, remote)

	loaded, err := f.mgr.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.SourceRemote, loaded.Source)
	assert.Equal(t, "Solar ovens", loaded.Session.Value("topic1.value"))
}

func TestManager_LoadSkipsUnrecoverableLocalCopy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.local.Save(ctx, "p1", []byte(`{"stage":"topic1"}`)))
	store(t, f.remote, domain.NewSession("p1", t0))

	loaded, err := f.mgr.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.SourceRemote, loaded.Source)
}

func TestManager_LoadErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.mgr.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, f.local.Save(ctx, "bad", []byte(`garbage`)))
	_, err = f.mgr.Load(ctx, "bad")
	assert.True(t, recovery.IsInvalid(err))

	store(t, f.local, domain.NewSession("other", t0))
	raw, err := f.local.Load(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, f.local.Save(ctx, "p9", raw))
	_, err = f.mgr.Load(ctx, "p9")
	assert.ErrorContains(t, err, "does not match storage key")
}

func TestManager_LoadRepairsRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	raw := `{"id":"p1","stage":"TOPIC_2","fields":[],"created_at":"2026-03-01T12:00:00Z","updated_at":"2026-03-01T12:00:00Z"}`
	require.NoError(t, f.local.Save(ctx, "p1", []byte(raw)))

	loaded, err := f.mgr.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageTopic2, loaded.Session.Stage)
	assert.NotEmpty(t, loaded.Warnings)
}

func TestManager_DeleteDropsScheduledWrite(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s := domain.NewSession("p1", t0)
	s.Commit("topic1.value", "Solar ovens", domain.ProvenanceUser, false, t0)
	require.NoError(t, f.mgr.Save(ctx, s))
	require.NoError(t, f.mgr.Delete(ctx, "p1"))
	require.NoError(t, f.coord.Flush(ctx))

	_, err := f.remote.Load(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.mgr.Load(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_DeleteAndList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	store(t, f.local, domain.NewSession("p1", t0))
	store(t, f.remote, domain.NewSession("p1", t0))
	store(t, f.remote, domain.NewSession("p2", t0))

	ids, err := f.mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	require.NoError(t, f.mgr.Delete(ctx, "p1"))
	ids, err = f.mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids)
}

func TestManager_WithLockSerializes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.mgr.WithLock(ctx, "p1", func(context.Context) error {
				mu.Lock()
				active++
				overlap = overlap || active > 1
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
}

func TestManager_WithLockHonorsCanceledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := f.mgr.WithLock(ctx, "p1", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
