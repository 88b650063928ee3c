package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teaclave-sh/lifecycle/internal/scheduler"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

type fakeClient struct {
	mu sync.Mutex

	commands []scheduler.Command
	cmdIdx   int

	outcome scheduler.PullOutcome

	heartbeats int
	pulls      int
	results    []types.TaskResult
}

func (f *fakeClient) Heartbeat(string, scheduler.ReportedStatus) (scheduler.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	if f.cmdIdx >= len(f.commands) {
		return scheduler.Stop, nil
	}
	cmd := f.commands[f.cmdIdx]
	f.cmdIdx++
	return cmd, nil
}

func (f *fakeClient) PullTask(string) (scheduler.PullOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return f.outcome, nil
}

func (f *fakeClient) UpdateTaskResult(_, _ string, result *types.TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, *result)
	return nil
}

type fakeExecutor struct {
	result *types.TaskResult
	err    error
}

func (e *fakeExecutor) Execute(context.Context, types.StagedTask) (*types.TaskResult, error) {
	return e.result, e.err
}

func TestTickIdleStaysIdle(t *testing.T) {
	client := &fakeClient{commands: []scheduler.Command{scheduler.NoAction}}
	r := New("worker-1", client, &fakeExecutor{})

	status := r.tick(context.Background(), scheduler.Idle)

	require.Equal(t, scheduler.Idle, status)
	require.Equal(t, 1, client.heartbeats)
	require.Equal(t, 0, client.pulls)
}

func TestTickStopResetsToIdle(t *testing.T) {
	client := &fakeClient{commands: []scheduler.Command{scheduler.Stop}}
	r := New("worker-1", client, &fakeExecutor{})

	status := r.tick(context.Background(), scheduler.Executing)

	require.Equal(t, scheduler.Idle, status)
}

func TestTickNewTaskPullsAndExecutes(t *testing.T) {
	task := types.StagedTask{TaskID: "task-1"}
	client := &fakeClient{
		commands: []scheduler.Command{scheduler.NewTask},
		outcome:  scheduler.PullOutcome{Kind: scheduler.PullStaged, Task: &task},
	}
	executor := &fakeExecutor{result: &types.TaskResult{Summary: "ok"}}
	r := New("worker-1", client, executor)

	status := r.tick(context.Background(), scheduler.Idle)

	require.Equal(t, scheduler.Idle, status)
	require.Equal(t, 1, client.pulls)
	require.Len(t, client.results, 1)
	require.Equal(t, "ok", client.results[0].Summary)
}

func TestTickNewTaskPullEmptySkipsExecute(t *testing.T) {
	client := &fakeClient{
		commands: []scheduler.Command{scheduler.NewTask},
		outcome:  scheduler.PullOutcome{Kind: scheduler.PullEmpty},
	}
	executor := &fakeExecutor{}
	r := New("worker-1", client, executor)

	r.tick(context.Background(), scheduler.Idle)

	require.Empty(t, client.results)
}

func TestExecuteReportsExecutorErrorAsFailure(t *testing.T) {
	client := &fakeClient{}
	r := New("worker-1", client, &fakeExecutor{err: context.DeadlineExceeded})

	r.execute(context.Background(), types.StagedTask{TaskID: "task-2"})

	require.Len(t, client.results, 1)
	require.Equal(t, types.FailureExecutionError, client.results[0].FailureReason)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	client := &fakeClient{commands: []scheduler.Command{scheduler.NoAction}}
	r := New("worker-1", client, &fakeExecutor{})
	r.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
