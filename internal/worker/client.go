package worker

import (
	"github.com/teaclave-sh/lifecycle/internal/scheduler"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// TransportClient adapts a transport.Client onto the SchedulerClient
// interface, speaking the wire shapes internal/scheduler.RegisterHandlers
// decodes.
type TransportClient struct {
	rpc *transport.Client
}

func NewTransportClient(rpc *transport.Client) *TransportClient {
	return &TransportClient{rpc: rpc}
}

func (c *TransportClient) Heartbeat(workerID string, status scheduler.ReportedStatus) (scheduler.Command, error) {
	var cmd scheduler.Command
	err := c.rpc.Call("heartbeat", struct {
		WorkerID string                  `json:"worker_id"`
		Status   scheduler.ReportedStatus `json:"status"`
	}{workerID, status}, &cmd)
	return cmd, err
}

func (c *TransportClient) PullTask(workerID string) (scheduler.PullOutcome, error) {
	var outcome scheduler.PullOutcome
	err := c.rpc.Call("pull_task", struct {
		WorkerID string `json:"worker_id"`
	}{workerID}, &outcome)
	return outcome, err
}

func (c *TransportClient) UpdateTaskResult(workerID, taskID string, result *types.TaskResult) error {
	return c.rpc.Call("update_task_result", struct {
		WorkerID string            `json:"worker_id"`
		TaskID   string            `json:"task_id"`
		Result   *types.TaskResult `json:"result"`
	}{workerID, taskID, result}, nil)
}
