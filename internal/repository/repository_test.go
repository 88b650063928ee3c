package repository

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// memStore is an in-memory stand-in for kv.Store, used so repository
// tests don't have to pay for a real single-node Raft bootstrap.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, domerr.New(domerr.NotFound, "memStore.Get", "key not found")
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *memStore) Enumerate(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *memStore) CompareAndSwap(key, expected, newValue []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.data[string(key)]
	if !ok {
		current = nil
	}
	if !bytes.Equal(current, expected) {
		return false, nil
	}
	if newValue == nil {
		delete(s.data, string(key))
	} else {
		s.data[string(key)] = append([]byte(nil), newValue...)
	}
	return true, nil
}

func (s *memStore) Close() error { return nil }

func newTestRepo() *Repository {
	return New(newMemStore())
}

func TestCreateAndGetTask(t *testing.T) {
	repo := newTestRepo()
	task := &types.Task{Creator: "u1", Status: types.TaskCreated, Participants: map[string]bool{"u1": true}}

	require.NoError(t, repo.CreateTask(task))
	require.True(t, types.HasPrefix(task.ID, types.PrefixTask))

	got, version, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, version)
	require.Equal(t, types.TaskCreated, got.Status)
}

func TestUpdateTaskStaleOnConcurrentWrite(t *testing.T) {
	repo := newTestRepo()
	task := &types.Task{Creator: "u1", Status: types.TaskCreated, Participants: map[string]bool{"u1": true}}
	require.NoError(t, repo.CreateTask(task))

	got1, v1, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	got2, v2, err := repo.GetTask(task.ID)
	require.NoError(t, err)

	got1.Status = types.TaskDataAssigned
	require.NoError(t, repo.UpdateTask(got1, v1))

	got2.Status = types.TaskCanceled
	err = repo.UpdateTask(got2, v2)
	require.Error(t, err)

	final, _, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskDataAssigned, final.Status)
}

func TestListTasksByStatus(t *testing.T) {
	repo := newTestRepo()
	t1 := &types.Task{Creator: "u1", Status: types.TaskStaged, Participants: map[string]bool{"u1": true}}
	t2 := &types.Task{Creator: "u1", Status: types.TaskCreated, Participants: map[string]bool{"u1": true}}
	require.NoError(t, repo.CreateTask(t1))
	require.NoError(t, repo.CreateTask(t2))

	staged, err := repo.ListTasksByStatus(types.TaskStaged)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	require.Equal(t, t1.ID, staged[0].ID)
}

func TestHasNonTerminalTaskForFunction(t *testing.T) {
	repo := newTestRepo()
	fn := &types.Function{Name: "fn"}
	require.NoError(t, repo.CreateFunction(fn))

	task := &types.Task{Creator: "u1", FunctionID: fn.ID, Status: types.TaskRunning, Participants: map[string]bool{"u1": true}}
	require.NoError(t, repo.CreateTask(task))

	has, err := repo.HasNonTerminalTaskForFunction(fn.ID)
	require.NoError(t, err)
	require.True(t, has)

	task.Status = types.TaskFinished
	_, version, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateTask(task, version))

	has, err = repo.HasNonTerminalTaskForFunction(fn.ID)
	require.NoError(t, err)
	require.False(t, has)
}

func TestListTasksByUser(t *testing.T) {
	repo := newTestRepo()
	task := &types.Task{Creator: "u1", Status: types.TaskCreated, Participants: map[string]bool{"u1": true, "u2": true}}
	require.NoError(t, repo.CreateTask(task))

	for _, uid := range []string{"u1", "u2"} {
		tasks, err := repo.ListTasksByUser(uid)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
	}

	tasks, err := repo.ListTasksByUser("u3")
	require.NoError(t, err)
	require.Empty(t, tasks)
}
