package repository

import (
	"encoding/json"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// CreateTask mints a "task-<uuid>" id (unless the caller already set
// one, e.g. in tests) and persists the task iff no row exists yet.
func (r *Repository) CreateTask(t *types.Task) error {
	if t.ID == "" {
		t.ID = types.NewExternalID(types.PrefixTask)
	} else if !types.HasPrefix(t.ID, types.PrefixTask) {
		return domerr.New(domerr.InvalidArgument, "repository.CreateTask", "id must carry the task- prefix")
	}
	data, err := marshal("repository.CreateTask", t)
	if err != nil {
		return err
	}
	swapped, err := r.store.CompareAndSwap(taskKey(t.ID), nil, data)
	if err != nil {
		return domerr.Wrap(domerr.StorageUnavailable, "repository.CreateTask", "cas create", err)
	}
	if !swapped {
		return domerr.New(domerr.Internal, "repository.CreateTask", "task id collision")
	}
	if err := r.store.Put(taskIndexKey(t.Creator, t.ID), []byte{1}); err != nil {
		return domerr.Wrap(domerr.StorageUnavailable, "repository.CreateTask", "write user index", err)
	}
	for participant := range t.Participants {
		if participant == t.Creator {
			continue
		}
		if err := r.store.Put(taskIndexKey(participant, t.ID), []byte{1}); err != nil {
			return domerr.Wrap(domerr.StorageUnavailable, "repository.CreateTask", "write user index", err)
		}
	}
	return nil
}

// GetTask returns the task and an opaque version token (the raw
// bytes currently stored for task/<id>) that must be passed back to
// UpdateTask to detect a lost race.
func (r *Repository) GetTask(id string) (*types.Task, []byte, error) {
	if !types.HasPrefix(id, types.PrefixTask) {
		return nil, nil, domerr.New(domerr.InvalidArgument, "repository.GetTask", "id must carry the task- prefix")
	}
	data, err := r.store.Get(taskKey(id))
	if err != nil {
		return nil, nil, translateNotFound("repository.GetTask", id, err)
	}
	var t types.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, nil, domerr.Wrap(domerr.Internal, "repository.GetTask", "unmarshal", err)
	}
	return &t, data, nil
}

// UpdateTask performs a compare-and-swap on task/<id>. A mismatch
// against expectedVersion surfaces as a Stale domain error; callers
// (Management, Scheduler) re-read via GetTask and retry, capped at
// three attempts per spec §4.4.
func (r *Repository) UpdateTask(t *types.Task, expectedVersion []byte) error {
	data, err := marshal("repository.UpdateTask", t)
	if err != nil {
		return err
	}
	swapped, err := r.store.CompareAndSwap(taskKey(t.ID), expectedVersion, data)
	if err != nil {
		return domerr.Wrap(domerr.StorageUnavailable, "repository.UpdateTask", "cas update", err)
	}
	if !swapped {
		return domerr.New(domerr.Stale, "repository.UpdateTask", "task row changed since read")
	}
	return nil
}

// ListTasksByStatus enumerates every task/<id> row and filters by
// status. Used at Scheduler startup to rebuild the ready queue from
// tasks left in TaskStaged (spec §9's Open Question, resolved: the
// queue is recovered by enumeration).
func (r *Repository) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	var out []*types.Task
	err := r.store.Enumerate([]byte("task/"), func(_, v []byte) error {
		var t types.Task
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.Status == status {
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, domerr.Wrap(domerr.StorageUnavailable, "repository.ListTasksByStatus", "enumerate", err)
	}
	return out, nil
}

// ListTasksByUser enumerates the tasks a user participates in, using
// the task_index_by_user/<uid>/<tid> secondary index rather than a
// full table scan.
func (r *Repository) ListTasksByUser(userID string) ([]*types.Task, error) {
	var ids []string
	prefix := []byte("task_index_by_user/" + userID + "/")
	err := r.store.Enumerate(prefix, func(key, _ []byte) error {
		ids = append(ids, string(key[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, domerr.Wrap(domerr.StorageUnavailable, "repository.ListTasksByUser", "enumerate index", err)
	}
	var out []*types.Task
	for _, id := range ids {
		t, _, err := r.GetTask(id)
		if err != nil {
			continue // index may lag a concurrent delete; skip rather than fail the whole list
		}
		out = append(out, t)
	}
	return out, nil
}

// ResolveStagedTask builds the frozen view a worker receives from
// pull_task: the function payload plus every assigned input/output
// resolved to its URL and crypto material. Shared by Management's
// invoke_task and the Scheduler's ready-queue recovery at startup, so
// both resolve a Staged task identically without one importing the
// other.
func (r *Repository) ResolveStagedTask(task *types.Task) (types.StagedTask, error) {
	fn, err := r.GetFunction(task.FunctionID)
	if err != nil {
		return types.StagedTask{}, err
	}

	resolvedInputs := make(map[string]types.StagedFileRef, len(task.AssignedInputs))
	for slot, id := range task.AssignedInputs {
		f, err := r.GetInputFile(id)
		if err != nil {
			return types.StagedTask{}, err
		}
		resolvedInputs[slot] = types.StagedFileRef{ID: f.ID, URL: f.URL, FileCrypto: f.FileCrypto, Cmac: f.Cmac}
	}

	resolvedOutputs := make(map[string]types.StagedFileRef, len(task.AssignedOutputs))
	for slot, id := range task.AssignedOutputs {
		f, err := r.GetOutputFile(id)
		if err != nil {
			return types.StagedTask{}, err
		}
		ref := types.StagedFileRef{ID: f.ID, URL: f.URL, FileCrypto: f.FileCrypto}
		if f.Cmac != nil {
			ref.Cmac = *f.Cmac
		}
		resolvedOutputs[slot] = ref
	}

	return types.StagedTask{
		TaskID:          task.ID,
		FunctionPayload: fn.Payload,
		ResolvedInputs:  resolvedInputs,
		ResolvedOutputs: resolvedOutputs,
		Executor:        task.Executor,
		Arguments:       task.FunctionArguments,
	}, nil
}

// HasNonTerminalTaskForFunction reports whether any task referencing
// functionID is still outside a terminal status, used to enforce the
// delete_function invariant in spec §8.6.
func (r *Repository) HasNonTerminalTaskForFunction(functionID string) (bool, error) {
	found := false
	err := r.store.Enumerate([]byte("task/"), func(_, v []byte) error {
		var t types.Task
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.FunctionID == functionID && !t.Status.Terminal() {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, domerr.Wrap(domerr.StorageUnavailable, "repository.HasNonTerminalTaskForFunction", "enumerate", err)
	}
	return found, nil
}
