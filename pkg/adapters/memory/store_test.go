package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/blueprint/pkg/adapters/memory"
	"github.com/aretw0/blueprint/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunRecordStoreContract(t, memory.NewStore())
}

func TestMemoryQueue_Contract(t *testing.T) {
	ports.RunSyncQueueContract(t, memory.NewQueue())
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	record := []byte(`{"id":"a"}`)
	require.NoError(t, store.Save(ctx, "a", record))

	record[2] = 'X'
	loaded, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, string(loaded))
}
