package auditagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teaclave-sh/lifecycle/internal/types"
)

func TestBufferDropsOldestWhenFull(t *testing.T) {
	buf := NewBuffer(2)
	buf.Push(types.AuditEntry{Microsecond: 1})
	buf.Push(types.AuditEntry{Microsecond: 2})
	buf.Push(types.AuditEntry{Microsecond: 3})

	entries := buf.Drain()
	require.Len(t, entries, 2)
	require.Equal(t, int64(2), entries[0].Microsecond)
	require.Equal(t, int64(3), entries[1].Microsecond)
}

func TestBufferRequeuePrependsAndCaps(t *testing.T) {
	buf := NewBuffer(3)
	buf.Push(types.AuditEntry{Microsecond: 10})

	buf.Requeue([]types.AuditEntry{{Microsecond: 1}, {Microsecond: 2}, {Microsecond: 3}})

	entries := buf.Drain()
	require.Len(t, entries, 3)
	require.Equal(t, int64(2), entries[0].Microsecond, "oldest of the requeued+pending set is dropped")
}

func TestAgentFlushesOnTickAndRetriesOnFailure(t *testing.T) {
	buf := NewBuffer(10)
	buf.Push(types.AuditEntry{Microsecond: 1, Message: "m"})

	var mu sync.Mutex
	var calls int
	flush := func(ctx context.Context, entries []types.AuditEntry) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("save_logs unavailable")
		}
		return nil
	}

	agent := New(buf, flush, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	agent.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, calls, 2, "first flush fails and requeues, a later tick must retry")
}

func TestAgentSkipsFlushWhenEmpty(t *testing.T) {
	buf := NewBuffer(10)
	called := false
	flush := func(ctx context.Context, entries []types.AuditEntry) error {
		called = true
		return nil
	}
	agent := New(buf, flush, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	agent.Run(ctx)
	require.False(t, called)
}
