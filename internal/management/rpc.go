package management

import (
	"encoding/json"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// RegisterHandlers binds every Management RPC Frontend forwards (plus
// save_logs, called directly by an Audit Agent flush) onto server. The
// wire shapes here mirror exactly what internal/frontend.Gateway sends.
func (s *Service) RegisterHandlers(server *transport.Server) {
	server.Register("create_task", s.handleCreateTask)
	server.Register("assign_data", s.handleAssignData)
	server.Register("approve_task", s.handleApproveTask)
	server.Register("invoke_task", s.handleInvokeTask)
	server.Register("cancel_task", s.handleCancelTask)
	server.Register("get_task", s.handleGetTask)
	server.Register("register_input_file", s.handleRegisterInputFile)
	server.Register("register_function", s.handleRegisterFunction)
	server.Register("get_function", s.handleGetFunction)
	server.Register("list_functions", s.handleListFunctions)
	server.Register("save_logs", s.handleSaveLogs)
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return domerr.Wrap(domerr.InvalidArgument, "management.rpc", "decode request", err)
	}
	return nil
}

func (s *Service) handleCreateTask(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller           string                      `json:"caller"`
		FunctionID       string                      `json:"function_id"`
		Arguments        map[string]string           `json:"arguments"`
		Executor         string                      `json:"executor"`
		InputsOwnership  map[string]map[string]bool  `json:"inputs_ownership"`
		OutputsOwnership map[string]map[string]bool  `json:"outputs_ownership"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.CreateTask(req.Caller, req.FunctionID, req.Arguments, req.Executor, req.InputsOwnership, req.OutputsOwnership)
}

func (s *Service) handleAssignData(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller  string            `json:"caller"`
		TaskID  string            `json:"task_id"`
		Inputs  map[string]string `json:"inputs"`
		Outputs map[string]string `json:"outputs"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return nil, s.AssignData(req.Caller, req.TaskID, req.Inputs, req.Outputs)
}

func (s *Service) handleApproveTask(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string `json:"caller"`
		TaskID string `json:"task_id"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return nil, s.ApproveTask(req.Caller, req.TaskID)
}

func (s *Service) handleInvokeTask(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string `json:"caller"`
		TaskID string `json:"task_id"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return nil, s.InvokeTask(req.Caller, req.TaskID)
}

func (s *Service) handleCancelTask(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string `json:"caller"`
		TaskID string `json:"task_id"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return nil, s.CancelTask(req.Caller, req.TaskID)
}

func (s *Service) handleGetTask(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string `json:"caller"`
		TaskID string `json:"task_id"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.GetTask(req.Caller, req.TaskID)
}

func (s *Service) handleRegisterInputFile(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string           `json:"caller"`
		File   *types.InputFile `json:"file"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.RegisterInputFile(req.Caller, req.File)
}

func (s *Service) handleRegisterFunction(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller   string          `json:"caller"`
		Function *types.Function `json:"function"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.RegisterFunction(req.Caller, req.Function)
}

func (s *Service) handleGetFunction(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string `json:"caller"`
		ID     string `json:"id"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.GetFunction(req.Caller, req.ID)
}

func (s *Service) handleListFunctions(raw json.RawMessage) (interface{}, error) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	return s.ListFunctions(req.Caller)
}

func (s *Service) handleSaveLogs(raw json.RawMessage) (interface{}, error) {
	var entries []types.AuditEntry
	if err := decode(raw, &entries); err != nil {
		return nil, err
	}
	return nil, s.SaveLogs(entries)
}
