package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Initial Load (Old is Nil)", func(t *testing.T) {
		s := NewSession("sess-1", now)
		s.Commit("topic1.value", "Energy", ProvenanceUser, false, now)

		diff := Diff(nil, s)
		require.NotNil(t, diff)
		require.NotNil(t, diff.Stage)
		assert.Equal(t, StageTopic1, *diff.Stage)
		assert.Contains(t, diff.Fields, "topic1.value")
		assert.False(t, diff.Reset)
	})

	t.Run("No Changes", func(t *testing.T) {
		s := NewSession("sess-1", now)
		assert.Nil(t, Diff(s, s.Clone()))
	})

	t.Run("Field Added, Modified and Deleted", func(t *testing.T) {
		old := NewSession("sess-1", now)
		old.Capture("goals.1.statement", "a", now)
		old.Capture("goals.1.evidence", "b", now)

		next := old.Clone()
		next.Capture("goals.1.statement", "changed", now)
		next.Remove("goals.1.evidence")
		next.Capture("goals.2.statement", "new", now)

		diff := Diff(old, next)
		require.NotNil(t, diff)
		assert.Nil(t, diff.Stage)
		assert.Equal(t, "changed", diff.Fields["goals.1.statement"].Value)
		assert.Equal(t, "new", diff.Fields["goals.2.statement"].Value)
		v, present := diff.Fields["goals.1.evidence"]
		assert.True(t, present)
		assert.Nil(t, v)
	})

	t.Run("Pending Cleared and Epoch Reset", func(t *testing.T) {
		old := NewSession("sess-1", now)
		old.Pending = &PendingConfirmation{Target: "topic1.value", Value: "x"}

		next := old.Reset(now)
		diff := Diff(old, next)
		require.NotNil(t, diff)
		assert.True(t, diff.PendingChanged)
		assert.Nil(t, diff.Pending)
		assert.True(t, diff.Reset)
	})
}

func TestDiff_JSONOmitsUnchanged(t *testing.T) {
	now := time.Now()
	old := NewSession("sess-1", now)
	next := old.Clone()
	next.Stage = StageTopic2

	data, err := json.Marshal(Diff(old, next))
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"sess-1","stage":"topic2"}`, string(data))
}
