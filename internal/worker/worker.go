package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/scheduler"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// Executor runs a staged task's function payload against a pluggable
// sandboxed runtime and reports the outcome. Implementations are out
// of scope here; this module only defines the seam.
type Executor interface {
	Execute(ctx context.Context, task types.StagedTask) (*types.TaskResult, error)
}

// SchedulerClient is the RPC surface a Runner needs from the
// Scheduler service. A production implementation forwards each
// method over internal/transport; tests supply a fake.
type SchedulerClient interface {
	Heartbeat(workerID string, status scheduler.ReportedStatus) (scheduler.Command, error)
	PullTask(workerID string) (scheduler.PullOutcome, error)
	UpdateTaskResult(workerID, taskID string, result *types.TaskResult) error
}

const heartbeatInterval = 10 * time.Second

// Runner drives one worker process's heartbeat/pull/execute loop.
type Runner struct {
	workerID string
	client   SchedulerClient
	executor Executor
	interval time.Duration
}

func New(workerID string, client SchedulerClient, executor Executor) *Runner {
	return &Runner{workerID: workerID, client: client, executor: executor, interval: heartbeatInterval}
}

func (r *Runner) logger() zerolog.Logger {
	return log.WithComponent("worker").With().Str("worker_id", r.workerID).Logger()
}

// Run drives the heartbeat loop until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	status := scheduler.Idle
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status = r.tick(ctx, status)
		}
	}
}

// tick sends one heartbeat, acts on the returned command, and reports
// the status the next heartbeat should carry.
func (r *Runner) tick(ctx context.Context, status scheduler.ReportedStatus) scheduler.ReportedStatus {
	cmd, err := r.client.Heartbeat(r.workerID, status)
	if err != nil {
		r.logger().Warn().Err(err).Msg("heartbeat failed")
		return status
	}

	switch cmd {
	case scheduler.Stop:
		return scheduler.Idle
	case scheduler.NewTask:
		return r.pullAndExecute(ctx)
	default:
		return status
	}
}

func (r *Runner) pullAndExecute(ctx context.Context) scheduler.ReportedStatus {
	outcome, err := r.client.PullTask(r.workerID)
	if err != nil {
		r.logger().Warn().Err(err).Msg("pull_task failed")
		return scheduler.Idle
	}

	switch outcome.Kind {
	case scheduler.PullEmpty, scheduler.PullCanceled, scheduler.PullFailed:
		return scheduler.Idle
	case scheduler.PullStaged:
		r.execute(ctx, *outcome.Task)
		return scheduler.Idle
	default:
		return scheduler.Idle
	}
}

func (r *Runner) execute(ctx context.Context, task types.StagedTask) {
	logger := r.logger().With().Str("task_id", task.TaskID).Logger()

	result, err := r.executor.Execute(ctx, task)
	if err != nil {
		logger.Error().Err(err).Msg("executor returned an error")
		result = &types.TaskResult{Error: err.Error(), FailureReason: types.FailureExecutionError}
	}

	if err := r.client.UpdateTaskResult(r.workerID, task.TaskID, result); err != nil {
		logger.Error().Err(err).Msg("failed to report task result")
	}
}
