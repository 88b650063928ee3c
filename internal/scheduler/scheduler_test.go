package scheduler

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/repository"
	"github.com/teaclave-sh/lifecycle/internal/taskfsm"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, domerr.New(domerr.NotFound, "memStore.Get", "key not found")
	}
	return v, nil
}

func (m *memStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

func (m *memStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memStore) Enumerate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memStore) CompareAndSwap(key, expected, newValue []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.data[string(key)]
	if expected == nil {
		if exists {
			return false, nil
		}
	} else if !exists || !bytes.Equal(current, expected) {
		return false, nil
	}
	m.data[string(key)] = newValue
	return true, nil
}

func (m *memStore) Close() error { return nil }

func stagedTask(id string) types.StagedTask {
	return types.StagedTask{TaskID: id, FunctionPayload: []byte("payload")}
}

func newTestFunction(t *testing.T, repo *repository.Repository) string {
	fn := &types.Function{Name: "fn", Payload: []byte("payload")}
	require.NoError(t, repo.CreateFunction(fn))
	return fn.ID
}

func newTestSchedulerWithTask(t *testing.T, status types.TaskStatus) (*Scheduler, *repository.Repository, string) {
	repo := repository.New(newMemStore())
	functionID := newTestFunction(t, repo)
	task := taskfsm.Create("u1", functionID, nil, "python", nil, nil, time.Now())
	require.NoError(t, repo.CreateTask(task))
	if status != types.TaskCreated {
		got, version, err := repo.GetTask(task.ID)
		require.NoError(t, err)
		got.Status = status
		require.NoError(t, repo.UpdateTask(got, version))
	}
	return New(repo, nil), repo, task.ID
}

func TestPublishThenPullHappyPath(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))

	outcome, err := sched.PullTask("worker-1")
	require.NoError(t, err)
	require.Equal(t, PullStaged, outcome.Kind)
	require.Equal(t, taskID, outcome.Task.TaskID)

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskRunning, task.Status)
	require.Equal(t, "worker-1", task.AssignedWorker)
}

func TestPullOnEmptyQueueReturnsEmpty(t *testing.T) {
	sched, _, _ := newTestSchedulerWithTask(t, types.TaskStaged)
	outcome, err := sched.PullTask("worker-1")
	require.NoError(t, err)
	require.Equal(t, PullEmpty, outcome.Kind)
}

func TestCancelBeforePullFinalizesImmediately(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))

	require.NoError(t, sched.Cancel(taskID))

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskCanceled, task.Status)

	outcome, err := sched.PullTask("worker-1")
	require.NoError(t, err)
	require.Equal(t, PullEmpty, outcome.Kind, "canceled task was removed from the queue")
}

func TestPullReportsCanceledWhenCancelRacesPull(t *testing.T) {
	sched, _, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))

	sched.mu.Lock()
	sched.cancellations[taskID] = true
	sched.mu.Unlock()

	outcome, err := sched.PullTask("worker-1")
	require.NoError(t, err)
	require.Equal(t, PullCanceled, outcome.Kind)
	require.Equal(t, taskID, outcome.TaskID)
}

func TestCancelOnRunningTaskDefersToHeartbeat(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))
	_, err := sched.PullTask("worker-1")
	require.NoError(t, err)

	require.NoError(t, sched.Cancel(taskID))
	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskRunning, task.Status, "cancel on a running task must not resolve it directly")

	cmd, err := sched.Heartbeat("worker-1", Executing)
	require.NoError(t, err)
	require.Equal(t, Stop, cmd)

	task, _, err = repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskCanceled, task.Status)
}

func TestHeartbeatIdleWithQueuedWorkReturnsNewTask(t *testing.T) {
	sched, _, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))

	cmd, err := sched.Heartbeat("worker-2", Idle)
	require.NoError(t, err)
	require.Equal(t, NewTask, cmd)
}

func TestHeartbeatExecutingExtendsLease(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))
	_, err := sched.PullTask("worker-1")
	require.NoError(t, err)

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	firstDeadline := *task.LeaseDeadline

	time.Sleep(2 * time.Millisecond)
	_, err = sched.Heartbeat("worker-1", Executing)
	require.NoError(t, err)

	task, _, err = repo.GetTask(taskID)
	require.NoError(t, err)
	require.True(t, task.LeaseDeadline.After(firstDeadline))
}

func TestUpdateTaskResultClearsAssignment(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))
	_, err := sched.PullTask("worker-1")
	require.NoError(t, err)

	require.NoError(t, sched.UpdateTaskResult("worker-1", taskID, &types.TaskResult{Summary: "ok"}))

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskFinished, task.Status)

	sched.mu.Lock()
	assigned := sched.workers["worker-1"].assignedTask
	sched.mu.Unlock()
	require.Empty(t, assigned)
}

func TestUpdateTaskResultCmacsReportedOutputFiles(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))
	_, err := sched.PullTask("worker-1")
	require.NoError(t, err)

	out := &types.OutputFile{FileCrypto: types.FileCrypto{Algorithm: "aes-gcm", Key: bytes.Repeat([]byte{0x42}, 32)}}
	require.NoError(t, repo.CreateOutputFile(out))

	result := &types.TaskResult{
		Summary:        "ok",
		OutputFiles:    map[string]string{"result": out.ID},
		OutputPayloads: map[string][]byte{"result": []byte("plaintext output")},
	}
	require.NoError(t, sched.UpdateTaskResult("worker-1", taskID, result))

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskFinished, task.Status)

	updated, err := repo.GetOutputFile(out.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Cmac)
	require.NotEqual(t, [16]byte{}, *updated.Cmac)
}

func TestFailureDetectionExpiresStaleLease(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))
	_, err := sched.PullTask("worker-1")
	require.NoError(t, err)

	sched.mu.Lock()
	sched.leases[taskID] = time.Now().Add(-1 * time.Second)
	sched.mu.Unlock()

	sched.detectFailuresOnce()

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, task.Status)
	require.Equal(t, types.FailureTimeout, task.Result.FailureReason)
}

func TestFailureDetectionMarksSilentWorkerLost(t *testing.T) {
	sched, repo, taskID := newTestSchedulerWithTask(t, types.TaskStaged)
	sched.Publish(stagedTask(taskID))
	_, err := sched.PullTask("worker-1")
	require.NoError(t, err)

	sched.mu.Lock()
	sched.workers["worker-1"].lastHeartbeat = time.Now().Add(-31 * time.Second)
	sched.mu.Unlock()

	sched.detectFailuresOnce()

	sched.mu.Lock()
	status := sched.workers["worker-1"].status
	sched.mu.Unlock()
	require.Equal(t, workerLost, status)

	task, _, err := repo.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, task.Status)
}

func TestPullTaskFailsResourceMissingWhenInputFileGone(t *testing.T) {
	repo := repository.New(newMemStore())
	functionID := newTestFunction(t, repo)

	task := taskfsm.Create("u1", functionID, nil, "python", nil, nil, time.Now())
	require.NoError(t, repo.CreateTask(task))

	got, version, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	got.Status = types.TaskStaged
	got.AssignedInputs = map[string]string{"slot": "input-never-registered"}
	require.NoError(t, repo.UpdateTask(got, version))

	sched := New(repo, nil)
	sched.Publish(stagedTask(task.ID))

	outcome, err := sched.PullTask("worker-1")
	require.NoError(t, err)
	require.Equal(t, PullFailed, outcome.Kind)
	require.Equal(t, task.ID, outcome.TaskID)

	final, _, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, final.Status)
	require.Equal(t, types.FailureResourceMissing, final.Result.FailureReason)
}

func TestRecoverReadyQueueRebuildsFromStagedTasks(t *testing.T) {
	repo := repository.New(newMemStore())
	functionID := newTestFunction(t, repo)
	task := taskfsm.Create("u1", functionID, nil, "python", nil, nil, time.Now())
	require.NoError(t, repo.CreateTask(task))
	got, version, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	got.Status = types.TaskStaged
	require.NoError(t, repo.UpdateTask(got, version))

	sched := New(repo, nil)
	err = sched.RecoverReadyQueue(func(t *types.Task) (types.StagedTask, error) {
		return stagedTask(t.ID), nil
	})
	require.NoError(t, err)

	outcome, err := sched.PullTask("worker-1")
	require.NoError(t, err)
	require.Equal(t, PullStaged, outcome.Kind)
	require.Equal(t, task.ID, outcome.Task.TaskID)
}
