package scheduler

import (
	"encoding/json"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// RegisterHandlers binds the worker-facing RPCs (heartbeat, pull_task,
// update_task_result) onto server. Workers call the Scheduler
// directly; Management only forwards update_task_result through its
// own delegate method, which shares this same Scheduler instance.
func (s *Scheduler) RegisterHandlers(server *transport.Server) {
	server.Register("heartbeat", s.handleHeartbeat)
	server.Register("pull_task", s.handlePullTask)
	server.Register("update_task_result", s.handleUpdateTaskResult)
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return domerr.Wrap(domerr.InvalidArgument, "scheduler.rpc", "decode request", err)
	}
	return nil
}

func (s *Scheduler) handleHeartbeat(raw json.RawMessage) (interface{}, error) {
	var req struct {
		WorkerID string         `json:"worker_id"`
		Status   ReportedStatus `json:"status"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.Heartbeat(req.WorkerID, req.Status)
}

func (s *Scheduler) handlePullTask(raw json.RawMessage) (interface{}, error) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.PullTask(req.WorkerID)
}

func (s *Scheduler) handleUpdateTaskResult(raw json.RawMessage) (interface{}, error) {
	var req struct {
		WorkerID string           `json:"worker_id"`
		TaskID   string           `json:"task_id"`
		Result   *types.TaskResult `json:"result"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return nil, s.UpdateTaskResult(req.WorkerID, req.TaskID, req.Result)
}
