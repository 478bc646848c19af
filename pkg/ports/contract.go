package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRecordStoreContract runs a suite of tests to verify that a RecordStore implementation
// adheres to the defined interface contract.
func RunRecordStoreContract(t *testing.T, store RecordStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		record := []byte(`{"id":"` + sessionID + `","stage":"topic1","fields":[{"key":"topic1.value","value":"bar"}]}`)

		err := store.Save(ctx, sessionID, record)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.JSONEq(t, string(record), string(loaded))
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sessionID, []byte(`{"v":1}`)))
		require.NoError(t, store.Save(ctx, sessionID, []byte(`{"v":2}`)))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(loaded))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, []byte(`{}`))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, sessionID), "Deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, []byte(`{}`))
		_ = store.Save(ctx, id2, []byte(`{}`))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

// RunSyncQueueContract verifies FIFO ordering, acknowledgement and retry bookkeeping.
func RunSyncQueueContract(t *testing.T, queue SyncQueue) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("FIFO Order", func(t *testing.T) {
		var ids []string
		for i, sid := range []string{"p1", "p2", "p1"} {
			e, err := queue.Enqueue(ctx, SyncEntry{
				SessionID: sid,
				Seq:       uint64(i + 1),
				Payload:   []byte(`{"n":` + string(rune('0'+i)) + `}`),
				CreatedAt: now,
			})
			require.NoError(t, err)
			require.NotEmpty(t, e.ID)
			ids = append(ids, e.ID)
		}

		pending, err := queue.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		for i := range ids {
			assert.Equal(t, ids[i], pending[i].ID)
		}
		assert.Equal(t, "p1", pending[0].SessionID)
		assert.Equal(t, uint64(3), pending[2].Seq)
		assert.JSONEq(t, `{"n":0}`, string(pending[0].Payload))

		for _, id := range ids {
			require.NoError(t, queue.Ack(ctx, id))
		}
		n, err := queue.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Retry Keeps Position", func(t *testing.T) {
		first, err := queue.Enqueue(ctx, SyncEntry{SessionID: "p1", Payload: []byte(`{}`), CreatedAt: now})
		require.NoError(t, err)
		second, err := queue.Enqueue(ctx, SyncEntry{SessionID: "p2", Payload: []byte(`{}`), CreatedAt: now})
		require.NoError(t, err)

		next := now.Add(time.Minute)
		require.NoError(t, queue.Retry(ctx, first.ID, next))

		pending, err := queue.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, 1, pending[0].Attempts)
		assert.True(t, next.Equal(pending[0].NextRetry))

		require.NoError(t, queue.Ack(ctx, first.ID))
		require.NoError(t, queue.Ack(ctx, second.ID))
	})

	t.Run("Ack Unknown", func(t *testing.T) {
		assert.NoError(t, queue.Ack(ctx, "missing"))
	})
}
