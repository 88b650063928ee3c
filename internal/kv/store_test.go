package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(Config{NodeID: "test-node", DataDir: dir})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rs := store.(*raftStore)
		return rs.raft.State().String() == "Leader"
	}, 5*time.Second, 50*time.Millisecond, "store never became leader")

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put([]byte("task/t-1"), []byte(`{"status":"created"}`)))

	value, err := store.Get([]byte("task/t-1"))
	require.NoError(t, err)
	require.Equal(t, `{"status":"created"}`, string(value))
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get([]byte("task/missing"))
	require.Error(t, err)
}

func TestStoreCompareAndSwap(t *testing.T) {
	store := newTestStore(t)

	// Create: expected nil means "must not exist yet".
	swapped, err := store.CompareAndSwap([]byte("task/t-1"), nil, []byte("v1"))
	require.NoError(t, err)
	require.True(t, swapped)

	// A second "create" with the same expectation must lose the race.
	swapped, err = store.CompareAndSwap([]byte("task/t-1"), nil, []byte("v1-again"))
	require.NoError(t, err)
	require.False(t, swapped)

	// Update against the correct expected value succeeds.
	swapped, err = store.CompareAndSwap([]byte("task/t-1"), []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, swapped)

	value, err := store.Get([]byte("task/t-1"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))

	// Update against a stale expected value fails.
	swapped, err = store.CompareAndSwap([]byte("task/t-1"), []byte("v1"), []byte("v3"))
	require.NoError(t, err)
	require.False(t, swapped)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Delete([]byte("task/never-existed")))

	require.NoError(t, store.Put([]byte("task/t-2"), []byte("v")))
	require.NoError(t, store.Delete([]byte("task/t-2")))
	require.NoError(t, store.Delete([]byte("task/t-2")))

	_, err := store.Get([]byte("task/t-2"))
	require.Error(t, err)
}

func TestStoreEnumeratePrefix(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put([]byte("task/t-1"), []byte("a")))
	require.NoError(t, store.Put([]byte("task/t-2"), []byte("b")))
	require.NoError(t, store.Put([]byte("function/f-1"), []byte("c")))

	var keys []string
	err := store.Enumerate([]byte("task/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"task/t-1", "task/t-2"}, keys)
}
