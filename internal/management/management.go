package management

import (
	"fmt"
	"time"

	"github.com/teaclave-sh/lifecycle/internal/accesscontrol"
	"github.com/teaclave-sh/lifecycle/internal/audit"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/repository"
	"github.com/teaclave-sh/lifecycle/internal/retry"
	"github.com/teaclave-sh/lifecycle/internal/scheduler"
	"github.com/teaclave-sh/lifecycle/internal/taskfsm"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// Service implements the Management RPCs.
type Service struct {
	repo      *repository.Repository
	oracle    accesscontrol.Oracle
	auditIdx  *audit.Index
	scheduler *scheduler.Scheduler
}

func New(repo *repository.Repository, oracle accesscontrol.Oracle, auditIdx *audit.Index, sched *scheduler.Scheduler) *Service {
	return &Service{repo: repo, oracle: oracle, auditIdx: auditIdx, scheduler: sched}
}

// authorize checks caller against object. It records an audit entry
// only when the oracle denies the call or fails; a granted check
// leaves auditing to the calling RPC.
func (s *Service) authorize(caller string, object accesscontrol.Object, message string) error {
	ok, err := s.oracle.Authorize(caller, object)
	if err != nil {
		s.audit(caller, message, false)
		return domerr.Wrap(domerr.Internal, "management.authorize", "oracle failure", err)
	}
	if !ok {
		s.audit(caller, message, false)
		return domerr.New(domerr.PermissionDenied, "management.authorize", fmt.Sprintf("%s is not authorized for %s", caller, object))
	}
	return nil
}

func (s *Service) audit(caller, message string, result bool) {
	if s.auditIdx == nil {
		return
	}
	_ = s.auditIdx.Append(types.AuditEntry{User: caller, Message: message, Result: result})
}

// resolveOwners looks up the current owner set of any registered
// input, output or fusion data id, for taskfsm.AssignData's
// ownership-subset check.
func (s *Service) resolveOwners(dataID string) (map[string]bool, error) {
	switch {
	case types.HasPrefix(dataID, types.PrefixInput):
		f, err := s.repo.GetInputFile(dataID)
		if err != nil {
			return nil, err
		}
		return f.Owner, nil
	case types.HasPrefix(dataID, types.PrefixFusion):
		f, err := s.repo.GetOutputFile(dataID)
		if err != nil {
			return nil, err
		}
		return f.Owner, nil
	case types.HasPrefix(dataID, types.PrefixOutput):
		f, err := s.repo.GetOutputFile(dataID)
		if err != nil {
			return nil, err
		}
		return f.Owner, nil
	default:
		return nil, domerr.New(domerr.InvalidArgument, "management.resolveOwners", "unrecognized data id prefix")
	}
}

// --- Files ---

func (s *Service) RegisterInputFile(caller string, f *types.InputFile) (string, error) {
	if err := s.authorize(caller, "input_file:register", "register_input_file"); err != nil {
		return "", err
	}
	if f.Owner == nil {
		f.Owner = map[string]bool{caller: true}
	}
	err := s.repo.CreateInputFile(f)
	s.audit(caller, "register_input_file id="+f.ID, err == nil)
	return f.ID, err
}

// UpdateInputFile mints a fresh input- id, leaving the prior record
// untouched so any task already bound to it is unaffected (spec §4.4).
func (s *Service) UpdateInputFile(caller string, f *types.InputFile) (string, error) {
	if err := s.authorize(caller, accesscontrol.Object("input_file:"+f.ID), "update_input_file"); err != nil {
		return "", err
	}
	f.ID = ""
	err := s.repo.CreateInputFile(f)
	s.audit(caller, "update_input_file id="+f.ID, err == nil)
	return f.ID, err
}

func (s *Service) RegisterOutputFile(caller string, f *types.OutputFile) (string, error) {
	if err := s.authorize(caller, "output_file:register", "register_output_file"); err != nil {
		return "", err
	}
	f.IsFusion = false
	if f.Owner == nil {
		f.Owner = map[string]bool{caller: true}
	}
	err := s.repo.CreateOutputFile(f)
	s.audit(caller, "register_output_file id="+f.ID, err == nil)
	return f.ID, err
}

// RegisterFusionOutput registers an output jointly owned by an
// ordered list of co-owners (spec §4.4).
func (s *Service) RegisterFusionOutput(caller string, owners []string, cryptoSpec types.FileCrypto) (string, error) {
	if err := s.authorize(caller, "output_file:register", "register_fusion_output"); err != nil {
		return "", err
	}
	ownerSet := make(map[string]bool, len(owners))
	for _, o := range owners {
		ownerSet[o] = true
	}
	f := &types.OutputFile{
		Owner:        ownerSet,
		FusionOwners: owners,
		IsFusion:     true,
		FileCrypto:   cryptoSpec,
	}
	err := s.repo.CreateOutputFile(f)
	s.audit(caller, "register_fusion_output id="+f.ID, err == nil)
	return f.ID, err
}

// RegisterInputFromOutput re-registers a finished output as an input
// for a downstream task, verifying caller is among the output's
// owners (or fusion co-owners).
func (s *Service) RegisterInputFromOutput(caller, outputID string) (string, error) {
	if err := s.authorize(caller, accesscontrol.Object("output_file:"+outputID), "register_input_from_output"); err != nil {
		return "", err
	}
	out, err := s.repo.GetOutputFile(outputID)
	if err != nil {
		s.audit(caller, "register_input_from_output output="+outputID, false)
		return "", err
	}
	if !out.Owner[caller] {
		s.audit(caller, "register_input_from_output output="+outputID, false)
		return "", domerr.New(domerr.PermissionDenied, "management.RegisterInputFromOutput", "caller is not an owner of the output")
	}
	in := &types.InputFile{
		Owner:      out.Owner,
		URL:        out.URL,
		FileCrypto: out.FileCrypto,
		Hash:       out.Hash,
	}
	if out.Cmac != nil {
		in.Cmac = *out.Cmac
	}
	if err := s.repo.CreateInputFile(in); err != nil {
		s.audit(caller, "register_input_from_output output="+outputID, false)
		return "", err
	}
	s.audit(caller, "register_input_from_output output="+outputID+" input="+in.ID, true)
	return in.ID, nil
}

// --- Functions ---

func (s *Service) RegisterFunction(caller string, f *types.Function) (string, error) {
	if err := s.authorize(caller, "function:register", "register_function"); err != nil {
		return "", err
	}
	f.Owner = caller
	err := s.repo.CreateFunction(f)
	s.audit(caller, "register_function id="+f.ID, err == nil)
	return f.ID, err
}

func (s *Service) UpdateFunction(caller string, f *types.Function) error {
	if err := s.authorize(caller, accesscontrol.Object("function:"+f.ID), "update_function"); err != nil {
		return err
	}
	existing, err := s.repo.GetFunction(f.ID)
	if err != nil {
		s.audit(caller, "update_function id="+f.ID, false)
		return err
	}
	f.Owner = existing.Owner
	err = s.repo.UpdateFunction(f)
	s.audit(caller, "update_function id="+f.ID, err == nil)
	return err
}

// DeleteFunction fails if any non-terminal task still references the
// function (spec §8.6).
func (s *Service) DeleteFunction(caller, functionID string) error {
	if err := s.authorize(caller, accesscontrol.Object("function:"+functionID), "delete_function"); err != nil {
		return err
	}
	if _, err := s.repo.GetFunction(functionID); err != nil {
		s.audit(caller, "delete_function id="+functionID, false)
		return err
	}
	referenced, err := s.repo.HasNonTerminalTaskForFunction(functionID)
	if err != nil {
		s.audit(caller, "delete_function id="+functionID, false)
		return err
	}
	if referenced {
		s.audit(caller, "delete_function id="+functionID, false)
		return domerr.New(domerr.InvalidArgument, "management.DeleteFunction", "a non-terminal task still references this function")
	}
	err = s.repo.DeleteFunction(functionID)
	s.audit(caller, "delete_function id="+functionID, err == nil)
	return err
}

func (s *Service) GetFunction(caller, id string) (*types.Function, error) {
	f, err := s.repo.GetFunction(id)
	s.audit(caller, "get_function id="+id, err == nil)
	return f, err
}

func (s *Service) ListFunctions(caller string) ([]*types.Function, error) {
	fns, err := s.repo.ListFunctions()
	s.audit(caller, "list_functions", err == nil)
	return fns, err
}

// --- Tasks ---

func (s *Service) CreateTask(caller, functionID string, args map[string]string, executor string,
	inputsOwnership, outputsOwnership map[string]map[string]bool) (string, error) {

	if err := s.authorize(caller, "task:create", "create_task"); err != nil {
		return "", err
	}

	fn, err := s.repo.GetFunction(functionID)
	if err != nil {
		s.audit(caller, "create_task function="+functionID, false)
		return "", err
	}
	if err := fn.ValidateArguments(args); err != nil {
		s.audit(caller, "create_task function="+functionID, false)
		return "", domerr.Wrap(domerr.InvalidArgument, "management.CreateTask", "validate arguments", err)
	}
	if err := types.ValidateSlotNames(fn.InputsSchema, flattenSlots(inputsOwnership)); err != nil {
		s.audit(caller, "create_task function="+functionID, false)
		return "", domerr.Wrap(domerr.InvalidArgument, "management.CreateTask", "validate input slots", err)
	}
	if err := types.ValidateSlotNames(fn.OutputsSchema, flattenSlots(outputsOwnership)); err != nil {
		s.audit(caller, "create_task function="+functionID, false)
		return "", domerr.Wrap(domerr.InvalidArgument, "management.CreateTask", "validate output slots", err)
	}

	task := taskfsm.Create(caller, functionID, args, executor, inputsOwnership, outputsOwnership, time.Now())
	err = s.repo.CreateTask(task)
	s.audit(caller, "create_task function="+functionID+" task="+task.ID, err == nil)
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

func flattenSlots(ownership map[string]map[string]bool) map[string]string {
	out := make(map[string]string, len(ownership))
	for slot := range ownership {
		out[slot] = ""
	}
	return out
}

func (s *Service) AssignData(caller, taskID string, inputs, outputs map[string]string) error {
	if err := s.authorize(caller, accesscontrol.Object("task:"+taskID+":assign_data"), "assign_data"); err != nil {
		return err
	}
	err := retry.CAS("management.AssignData", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			return err
		}
		if !task.Participants[caller] {
			return domerr.New(domerr.PermissionDenied, "management.AssignData", "caller is not a participant")
		}
		if err := taskfsm.AssignData(task, inputs, outputs, s.resolveOwners, time.Now()); err != nil {
			return err
		}
		return s.repo.UpdateTask(task, version)
	})
	s.audit(caller, "assign_data task="+taskID, err == nil)
	return err
}

func (s *Service) ApproveTask(caller, taskID string) error {
	if err := s.authorize(caller, accesscontrol.Object("task:"+taskID+":approve"), "approve_task"); err != nil {
		return err
	}
	err := retry.CAS("management.ApproveTask", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			return err
		}
		if err := taskfsm.Approve(task, caller, time.Now()); err != nil {
			return err
		}
		return s.repo.UpdateTask(task, version)
	})
	s.audit(caller, "approve_task task="+taskID, err == nil)
	return err
}

// InvokeTask transitions the task to Staged and publishes it to the
// Scheduler's ready queue.
func (s *Service) InvokeTask(caller, taskID string) error {
	if err := s.authorize(caller, accesscontrol.Object("task:"+taskID+":invoke"), "invoke_task"); err != nil {
		return err
	}
	var resolved *types.Task
	err := retry.CAS("management.InvokeTask", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			return err
		}
		if !task.Participants[caller] {
			return domerr.New(domerr.PermissionDenied, "management.InvokeTask", "caller is not a participant")
		}
		if err := taskfsm.Invoke(task, time.Now()); err != nil {
			return err
		}
		if err := s.repo.UpdateTask(task, version); err != nil {
			return err
		}
		resolved = task
		return nil
	})
	if err != nil {
		s.audit(caller, "invoke_task task="+taskID, false)
		return err
	}

	staged, err := s.resolveStagedTask(resolved)
	if err != nil {
		s.audit(caller, "invoke_task task="+taskID, false)
		return err
	}
	s.scheduler.Publish(staged)
	s.audit(caller, "invoke_task task="+taskID, true)
	return nil
}

// resolveStagedTask builds the frozen StagedTask view a worker
// receives from pull_task; the resolution logic lives on Repository so
// the Scheduler's startup recovery can reuse it without importing
// this package.
func (s *Service) resolveStagedTask(task *types.Task) (types.StagedTask, error) {
	return s.repo.ResolveStagedTask(task)
}

func (s *Service) CancelTask(caller, taskID string) error {
	if err := s.authorize(caller, accesscontrol.Object("task:"+taskID+":cancel"), "cancel_task"); err != nil {
		return err
	}
	task, _, err := s.repo.GetTask(taskID)
	if err != nil {
		s.audit(caller, "cancel_task task="+taskID, false)
		return err
	}
	if task.Creator != caller {
		s.audit(caller, "cancel_task task="+taskID, false)
		return domerr.New(domerr.PermissionDenied, "management.CancelTask", "only the creator may cancel a task")
	}
	err = s.scheduler.Cancel(taskID)
	s.audit(caller, "cancel_task task="+taskID, err == nil)
	return err
}

func (s *Service) GetTask(caller, taskID string) (*types.Task, error) {
	task, _, err := s.repo.GetTask(taskID)
	s.audit(caller, "get_task task="+taskID, err == nil)
	return task, err
}

// UpdateTaskResult is worker-only: it delegates lease verification and
// the Running->Finished/Failed transition to the Scheduler, which
// owns lease/assignment state.
func (s *Service) UpdateTaskResult(workerID, taskID string, result *types.TaskResult) error {
	if err := s.authorize(workerID, accesscontrol.Object("task:"+taskID+":update_result"), "update_task_result"); err != nil {
		return err
	}
	err := s.scheduler.UpdateTaskResult(workerID, taskID, result)
	s.audit(workerID, "update_task_result task="+taskID, err == nil)
	return err
}

// SaveLogs appends a batch of audit entries delivered by an Audit
// Agent flush.
func (s *Service) SaveLogs(entries []types.AuditEntry) error {
	for _, e := range entries {
		if err := s.auditIdx.Append(e); err != nil {
			return domerr.Wrap(domerr.Internal, "management.SaveLogs", "append batch", err)
		}
	}
	return nil
}
