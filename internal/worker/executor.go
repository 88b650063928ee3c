package worker

import (
	"context"

	"github.com/teaclave-sh/lifecycle/internal/types"
)

// NoopExecutor is a reference Executor that reports every task as
// succeeding with an empty summary and no output files. It exists so
// cmd/worker has something to run before a real sandboxed runtime is
// plugged in.
type NoopExecutor struct{}

func (NoopExecutor) Execute(context.Context, types.StagedTask) (*types.TaskResult, error) {
	return &types.TaskResult{Summary: "noop"}, nil
}
