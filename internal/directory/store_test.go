package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	assert.Empty(t, store.Snapshot())

	store.Publish("alpha", 30001)
	store.Publish("beta", 30002)
	assert.Equal(t, map[string]int{"alpha": 30001, "beta": 30002}, store.Snapshot())

	// Snapshots are independent copies.
	snap := store.Snapshot()
	snap["intruder"] = 1
	assert.NotContains(t, store.Snapshot(), "intruder")

	assert.True(t, store.Remove("alpha"))
	assert.False(t, store.Remove("alpha"), "second removal must report the missing entry")
	assert.Equal(t, map[string]int{"beta": 30002}, store.Snapshot())
}

func TestRedisStoreMirrors(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := NewRedisStore(ctx, mr.Addr(), "", 0, time.Minute, time.Hour)
	require.NoError(t, err)
	defer store.Close()

	store.Publish("alpha", 30001)
	val, err := mr.Get("portmux:proxy:alpha")
	require.NoError(t, err)
	assert.Equal(t, "30001", val)
	assert.Equal(t, map[string]int{"alpha": 30001}, store.Snapshot())

	assert.True(t, store.Remove("alpha"))
	assert.False(t, mr.Exists("portmux:proxy:alpha"))
	assert.Empty(t, store.Snapshot())
	assert.False(t, store.Remove("alpha"))
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "127.0.0.1:1", "", 0, time.Minute, time.Hour)
	assert.Error(t, err)
}
