// Package types holds the Teaclave data model: users, files, functions
// and the central Task entity, plus the identifier scheme shared by
// every durable entity.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix identifies the entity kind encoded in an ExternalID. The
// prefix is authoritative: repositories reject an id whose prefix
// doesn't match the entity kind being looked up.
type Prefix string

const (
	PrefixInput    Prefix = "input"
	PrefixOutput   Prefix = "output"
	PrefixFunction Prefix = "function"
	PrefixTask     Prefix = "task"
	PrefixFusion   Prefix = "fusion"
)

// NewExternalID mints a fresh id of the form "<prefix>-<uuidv4>".
func NewExternalID(prefix Prefix) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// HasPrefix reports whether id carries the given prefix.
func HasPrefix(id string, prefix Prefix) bool {
	return strings.HasPrefix(id, string(prefix)+"-")
}

// Role is a user's platform-wide role.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleDataOwner     Role = "data_owner"
	RoleFunctionOwner Role = "function_owner"
	RoleExecutor      Role = "executor"
)

// User is established by attested TLS peer certificate or bearer
// credential; authorization is delegated to an external oracle.
type User struct {
	ID   string
	Role Role
}

// FileCrypto describes the encryption scheme applied to a file's
// payload at rest (opaque beyond the algorithm name, per spec §1's
// treatment of the sandboxed executors as pluggable).
type FileCrypto struct {
	Algorithm string
	Key       []byte
}

// InputFile is registered by a data owner; it carries a mandatory
// 16-byte authentication tag (Cmac) computed over its payload.
type InputFile struct {
	ID         string
	Owner      map[string]bool // set<UserId>
	URL        string
	FileCrypto FileCrypto
	Cmac       [16]byte
	Hash       []byte
}

// OutputFile acquires its Cmac only after a successful task writes
// it; FusionOwners is non-empty only for fusion outputs.
type OutputFile struct {
	ID           string
	Owner        map[string]bool
	URL          string
	FileCrypto   FileCrypto
	Cmac         *[16]byte
	Hash         []byte
	IsFusion     bool
	FusionOwners []string // ordered co-owner list, preserved for audit/history
}

// SlotSpec describes one named input/output binding a Function
// declares, and whether a task may omit it.
type SlotSpec struct {
	Name     string
	Optional bool
}

// Function is a registered, reusable unit of work.
type Function struct {
	ID              string
	Name            string
	Description     string
	ExecutorType    string
	Payload         []byte
	ArgumentsSchema map[string]bool // set<string>
	InputsSchema    []SlotSpec      // ordered
	OutputsSchema   []SlotSpec      // ordered
	Owner           string
	Public          bool
	UsageQuota      *int
}

// ValidateArguments checks that every argument key provided by a task
// is declared in the function's ArgumentsSchema (spec §3 invariant).
func (f *Function) ValidateArguments(args map[string]string) error {
	for k := range args {
		if !f.ArgumentsSchema[k] {
			return fmt.Errorf("argument %q not declared in function %s", k, f.ID)
		}
	}
	return nil
}

// ValidateSlotNames checks that a binding map only names slots
// declared in schema. It does not check that every declared slot is
// bound.
func ValidateSlotNames(schema []SlotSpec, bound map[string]string) error {
	declared := make(map[string]bool, len(schema))
	for _, s := range schema {
		declared[s.Name] = true
	}
	for name := range bound {
		if !declared[name] {
			return fmt.Errorf("slot %q not declared in schema", name)
		}
	}
	return nil
}

// TaskStatus is the task's position in the lifecycle state machine
// (component C). See spec §4.3 for the full transition table.
type TaskStatus string

const (
	TaskCreated      TaskStatus = "created"
	TaskDataAssigned TaskStatus = "data_assigned"
	TaskApproved     TaskStatus = "approved"
	TaskStaged       TaskStatus = "staged"
	TaskRunning      TaskStatus = "running"
	TaskFinished     TaskStatus = "finished"
	TaskFailed       TaskStatus = "failed"
	TaskCanceled     TaskStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions
// except a no-op Cancel (invariant 1 in spec §8).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskFinished, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// FailureReason tags why a task ended in TaskFailed.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureTimeout          FailureReason = "timeout"
	FailureResourceMissing  FailureReason = "resource_missing"
	FailureWorkerLost       FailureReason = "worker_lost"
	FailureExecutionError   FailureReason = "execution_error"
)

// TaskResult is the terminal payload a worker or the scheduler
// attaches to a task.
type TaskResult struct {
	Summary     string
	OutputFiles map[string]string // slot name -> output file id
	// OutputPayloads carries the plaintext a worker wrote for each
	// output slot named in OutputFiles, so the Scheduler can cmac the
	// corresponding OutputFile record on a successful Complete. Empty
	// for a failed task, or for a successful one that wrote nothing.
	OutputPayloads map[string][]byte
	Error          string
	FailureReason  FailureReason
}

// Task is the central entity coordinated by the lifecycle engine.
type Task struct {
	ID                string
	Creator           string
	FunctionID        string
	FunctionArguments map[string]string // frozen at Create

	Executor string

	InputsOwnership  map[string]map[string]bool // slot -> set<UserId>
	OutputsOwnership map[string]map[string]bool

	AssignedInputs  map[string]string // slot -> DataId
	AssignedOutputs map[string]string

	ApprovedUsers map[string]bool
	Participants  map[string]bool

	Status TaskStatus
	Result *TaskResult

	LeaseDeadline   *time.Time
	AssignedWorker  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeParticipants returns the union of creator and every user named in
// any ownership slot (glossary: "Participant").
func ComputeParticipants(creator string, inputsOwnership, outputsOwnership map[string]map[string]bool) map[string]bool {
	p := map[string]bool{creator: true}
	for _, owners := range inputsOwnership {
		for u := range owners {
			p[u] = true
		}
	}
	for _, owners := range outputsOwnership {
		for u := range owners {
			p[u] = true
		}
	}
	return p
}

// StagedFileRef is a resolved, immutable reference to a file handed
// to a worker at Pull time.
type StagedFileRef struct {
	ID         string
	URL        string
	FileCrypto FileCrypto
	Cmac       [16]byte
}

// StagedTask is the frozen, resolved view of a task handed to a
// worker. It is derived at dispatch time, never persisted
// independently (spec §3).
type StagedTask struct {
	TaskID          string
	FunctionPayload []byte
	ResolvedInputs  map[string]StagedFileRef
	ResolvedOutputs map[string]StagedFileRef
	Executor        string
	Arguments       map[string]string
}

// AuditEntry is an immutable structured record appended for every
// authenticated state change.
type AuditEntry struct {
	Microsecond int64
	IP          string
	User        string
	Message     string
	Result      bool
}
