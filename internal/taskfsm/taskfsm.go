package taskfsm

import (
	"fmt"
	"time"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

const defaultLease = 30 * time.Second

func invalid(op string, status types.TaskStatus, event string) error {
	return domerr.New(domerr.InvalidTaskState, op,
		fmt.Sprintf("event %s not allowed in status %s", event, status))
}

// Create builds a fresh Task in status Created. Participants is the
// union of creator and every user named in an ownership slot
// (glossary: "Participant").
func Create(creator, functionID string, args map[string]string, executor string,
	inputsOwnership, outputsOwnership map[string]map[string]bool, now time.Time) *types.Task {

	return &types.Task{
		ID:                "", // minted by the repository on persist
		Creator:           creator,
		FunctionID:        functionID,
		FunctionArguments: args,
		Executor:          executor,
		InputsOwnership:   inputsOwnership,
		OutputsOwnership:  outputsOwnership,
		AssignedInputs:    make(map[string]string),
		AssignedOutputs:   make(map[string]string),
		ApprovedUsers:     make(map[string]bool),
		Participants:      types.ComputeParticipants(creator, inputsOwnership, outputsOwnership),
		Status:            types.TaskCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// OwnerLookup resolves the current owner set of a registered
// input/output/fusion file, used to validate invariant 3 (spec §8):
// file.owner ⊇ ownership_spec for every bound slot.
type OwnerLookup func(dataID string) (map[string]bool, error)

// AssignData binds inputs/outputs slot -> DataId. It is only legal
// from Created, and it is legal to call repeatedly as slots are
// filled in piecemeal: the task stays in Created until every
// declared input and output slot has a binding, at which point it
// advances to DataAssigned.
func AssignData(task *types.Task, inputs, outputs map[string]string, lookupOwner OwnerLookup, now time.Time) error {
	if task.Status != types.TaskCreated {
		return invalid("taskfsm.AssignData", task.Status, "AssignData")
	}

	for slot, dataID := range inputs {
		required, ok := task.InputsOwnership[slot]
		if !ok {
			return domerr.New(domerr.InvalidArgument, "taskfsm.AssignData", fmt.Sprintf("slot %q not declared on task", slot))
		}
		owners, err := lookupOwner(dataID)
		if err != nil {
			return err
		}
		if err := requireSubset(required, owners, slot); err != nil {
			return err
		}
		task.AssignedInputs[slot] = dataID
	}
	for slot, dataID := range outputs {
		required, ok := task.OutputsOwnership[slot]
		if !ok {
			return domerr.New(domerr.InvalidArgument, "taskfsm.AssignData", fmt.Sprintf("slot %q not declared on task", slot))
		}
		owners, err := lookupOwner(dataID)
		if err != nil {
			return err
		}
		if err := requireSubset(required, owners, slot); err != nil {
			return err
		}
		task.AssignedOutputs[slot] = dataID
	}

	task.UpdatedAt = now
	if allSlotsFilled(task) {
		task.Status = types.TaskDataAssigned
	}
	return nil
}

func requireSubset(required, owners map[string]bool, slot string) error {
	for u := range required {
		if !owners[u] {
			return domerr.New(domerr.PermissionDenied, "taskfsm.AssignData",
				fmt.Sprintf("slot %q: user %q is not in the file's owner set", slot, u))
		}
	}
	return nil
}

func allSlotsFilled(task *types.Task) bool {
	for slot := range task.InputsOwnership {
		if _, ok := task.AssignedInputs[slot]; !ok {
			return false
		}
	}
	for slot := range task.OutputsOwnership {
		if _, ok := task.AssignedOutputs[slot]; !ok {
			return false
		}
	}
	return true
}

// Approve records a participant's approval. Once every participant
// has approved, the task advances to Approved (invariant 2: becoming
// Approved requires approved_users ⊇ participants).
func Approve(task *types.Task, user string, now time.Time) error {
	if task.Status != types.TaskDataAssigned {
		return invalid("taskfsm.Approve", task.Status, "Approve")
	}
	if !task.Participants[user] {
		return domerr.New(domerr.PermissionDenied, "taskfsm.Approve", fmt.Sprintf("%q is not a participant", user))
	}
	task.ApprovedUsers[user] = true
	task.UpdatedAt = now

	if approvedSupersetOfParticipants(task) {
		task.Status = types.TaskApproved
	}
	return nil
}

func approvedSupersetOfParticipants(task *types.Task) bool {
	for p := range task.Participants {
		if !task.ApprovedUsers[p] {
			return false
		}
	}
	return true
}

// Invoke freezes the task for dispatch and advances it to Staged.
// The caller (Management service) is responsible for resolving the
// StagedTask view (function payload + file refs) and publishing it
// to the Scheduler.
func Invoke(task *types.Task, now time.Time) error {
	if task.Status != types.TaskApproved {
		return invalid("taskfsm.Invoke", task.Status, "Invoke")
	}
	task.Status = types.TaskStaged
	task.UpdatedAt = now
	return nil
}

// Pull assigns the task to a worker and opens its lease. Called by
// the Scheduler when popping the task off the ready queue.
func Pull(task *types.Task, workerID string, now time.Time) error {
	if task.Status != types.TaskStaged {
		return invalid("taskfsm.Pull", task.Status, "Pull")
	}
	task.Status = types.TaskRunning
	task.AssignedWorker = workerID
	deadline := now.Add(defaultLease)
	task.LeaseDeadline = &deadline
	task.UpdatedAt = now
	return nil
}

// Heartbeat extends a Running task's lease. workerID must match the
// task's AssignedWorker; a heartbeat from a different worker (e.g.
// one whose pull lost a race) is rejected.
func Heartbeat(task *types.Task, workerID string, now time.Time) error {
	if task.Status != types.TaskRunning {
		return invalid("taskfsm.Heartbeat", task.Status, "Heartbeat")
	}
	if task.AssignedWorker != workerID {
		return domerr.New(domerr.PermissionDenied, "taskfsm.Heartbeat", "worker does not hold the lease")
	}
	deadline := now.Add(defaultLease)
	task.LeaseDeadline = &deadline
	task.UpdatedAt = now
	return nil
}

// Complete attaches a worker's result and resolves the task to
// Finished or Failed depending on whether result.Error is set.
func Complete(task *types.Task, workerID string, result *types.TaskResult, now time.Time) error {
	if task.Status != types.TaskRunning {
		return invalid("taskfsm.Complete", task.Status, "Complete")
	}
	if task.AssignedWorker != workerID {
		return domerr.New(domerr.PermissionDenied, "taskfsm.Complete", "worker does not hold the lease")
	}
	task.Result = result
	task.LeaseDeadline = nil
	task.UpdatedAt = now
	if result.Error != "" {
		task.Status = types.TaskFailed
	} else {
		task.Status = types.TaskFinished
	}
	return nil
}

// Cancel moves the task to Canceled from any non-terminal status. In
// a terminal status it is a no-op (invariant 5: cancel is idempotent)
// rather than an error, since a Cancel racing a Complete/LeaseExpired
// that already resolved the task is an expected outcome, not a bug.
func Cancel(task *types.Task, now time.Time) error {
	if task.Status.Terminal() {
		return nil
	}
	task.Status = types.TaskCanceled
	task.LeaseDeadline = nil
	task.UpdatedAt = now
	return nil
}

// FailStaged fails a task still sitting in Staged, without ever
// assigning a worker or opening a lease. The Scheduler uses this when
// pull-time resolution discovers that a file bound to the task no
// longer exists (spec §5: staging resolves identifiers to URLs at
// Pull time, and a deleted file fails the pull rather than the
// worker receiving a stale reference).
func FailStaged(task *types.Task, reason types.FailureReason, detail string, now time.Time) error {
	if task.Status != types.TaskStaged {
		return invalid("taskfsm.FailStaged", task.Status, "FailStaged")
	}
	task.Status = types.TaskFailed
	task.Result = &types.TaskResult{FailureReason: reason, Error: detail}
	task.UpdatedAt = now
	return nil
}

// LeaseExpired fails a Running task whose lease the Scheduler's
// failure-detection tick found expired.
func LeaseExpired(task *types.Task, now time.Time) error {
	if task.Status != types.TaskRunning {
		return invalid("taskfsm.LeaseExpired", task.Status, "LeaseExpired")
	}
	task.Status = types.TaskFailed
	task.Result = &types.TaskResult{FailureReason: types.FailureTimeout, Error: "lease expired"}
	task.LeaseDeadline = nil
	task.UpdatedAt = now
	return nil
}
