package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/teaclave-sh/lifecycle/internal/crypto"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/metrics"
	"github.com/teaclave-sh/lifecycle/internal/repository"
	"github.com/teaclave-sh/lifecycle/internal/retry"
	"github.com/teaclave-sh/lifecycle/internal/taskfsm"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// Command is the scheduler's reply to a worker heartbeat.
type Command string

const (
	NoAction Command = "no_action"
	NewTask  Command = "new_task"
	Stop     Command = "stop"
)

// ReportedStatus is the status a worker self-reports in a heartbeat.
type ReportedStatus string

const (
	Idle      ReportedStatus = "idle"
	Executing ReportedStatus = "executing"
)

// registryStatus is the scheduler's own view of a worker, distinct
// from the status the worker last self-reported.
type registryStatus string

const (
	workerIdle registryStatus = "idle"
	workerBusy registryStatus = "busy"
	workerLost registryStatus = "lost"
)

const lostAfter = 30 * time.Second

type workerEntry struct {
	lastHeartbeat time.Time
	status        registryStatus
	assignedTask  string
}

// PullOutcomeKind distinguishes the shapes pull_task can return.
type PullOutcomeKind int

const (
	PullStaged PullOutcomeKind = iota
	PullEmpty
	PullCanceled
	PullFailed
)

// PullOutcome is the result of PullTask.
type PullOutcome struct {
	Kind   PullOutcomeKind
	Task   *types.StagedTask
	TaskID string // set on PullCanceled and PullFailed
}

// Scheduler holds the in-memory ready queue, worker registry,
// cancellation set and lease table, backed by the durable task row in
// the Entity Repository for every state transition.
type Scheduler struct {
	mu            sync.Mutex
	queue         []types.StagedTask
	workers       map[string]*workerEntry
	cancellations map[string]bool
	leases        map[string]time.Time

	repo      *repository.Repository
	publishAt map[string]time.Time // queue-insertion time, for SchedulingLatency
	onAudit   func(types.AuditEntry)
}

// New builds an empty Scheduler. onAudit may be nil.
func New(repo *repository.Repository, onAudit func(types.AuditEntry)) *Scheduler {
	if onAudit == nil {
		onAudit = func(types.AuditEntry) {}
	}
	return &Scheduler{
		workers:       make(map[string]*workerEntry),
		cancellations: make(map[string]bool),
		leases:        make(map[string]time.Time),
		publishAt:     make(map[string]time.Time),
		repo:          repo,
		onAudit:       onAudit,
	}
}

// RecoverReadyQueue rebuilds the ready queue at startup by enumerating
// tasks left in Staged, ordered by UpdatedAt as a proxy for true
// publish order (no independent publish timestamp is persisted).
func (s *Scheduler) RecoverReadyQueue(resolve func(*types.Task) (types.StagedTask, error)) error {
	tasks, err := s.repo.ListTasksByStatus(types.TaskStaged)
	if err != nil {
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UpdatedAt.Before(tasks[j].UpdatedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		staged, err := resolve(t)
		if err != nil {
			log.WithComponent("scheduler").Warn().Err(err).Str("task_id", t.ID).
				Msg("failed to resolve staged task during recovery; skipping")
			continue
		}
		s.queue = append(s.queue, staged)
		s.publishAt[t.ID] = time.Now()
	}
	metrics.ReadyQueueDepth.Set(float64(len(s.queue)))
	return nil
}

// Publish appends staged to the tail of the ready queue. Idempotent on
// task id: re-publishing an already-queued task is a no-op.
func (s *Scheduler) Publish(staged types.StagedTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.queue {
		if t.TaskID == staged.TaskID {
			return
		}
	}
	s.queue = append(s.queue, staged)
	s.publishAt[staged.TaskID] = time.Now()
	metrics.ReadyQueueDepth.Set(float64(len(s.queue)))
}

// Cancel adds taskID to the cancellation set. If the task is still
// sitting in the ready queue it is finalized to Canceled immediately;
// if it is Running, the cancellation is deferred to the worker's next
// heartbeat.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	s.cancellations[taskID] = true
	inQueue := -1
	for i, t := range s.queue {
		if t.TaskID == taskID {
			inQueue = i
			break
		}
	}
	if inQueue >= 0 {
		s.queue = append(s.queue[:inQueue], s.queue[inQueue+1:]...)
		delete(s.publishAt, taskID)
		metrics.ReadyQueueDepth.Set(float64(len(s.queue)))
	}
	s.mu.Unlock()

	if inQueue < 0 {
		return nil // deferred to next heartbeat
	}
	return s.finalizeCanceled(taskID)
}

func (s *Scheduler) finalizeCanceled(taskID string) error {
	return retry.CAS("scheduler.Cancel", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			return err
		}
		if err := taskfsm.Cancel(task, time.Now()); err != nil {
			return err
		}
		return s.repo.UpdateTask(task, version)
	})
}

// PullTask pops the head of the ready queue. A canceled task is
// finalized and reported as PullCanceled rather than dispatched.
// Everything else about the queued entry is re-resolved from the
// repository here rather than dispatched from the value cached at
// publish time: spec §5 requires identifiers to resolve to URLs at
// Pull time, so a file deleted after Invoke fails the pull instead of
// handing the worker a stale reference.
func (s *Scheduler) PullTask(workerID string) (PullOutcome, error) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return PullOutcome{Kind: PullEmpty}, nil
	}
	taskID := s.queue[0].TaskID
	s.queue = s.queue[1:]
	publishedAt, hadPublishTime := s.publishAt[taskID]
	delete(s.publishAt, taskID)
	metrics.ReadyQueueDepth.Set(float64(len(s.queue)))
	canceled := s.cancellations[taskID]
	s.mu.Unlock()

	if canceled {
		if err := s.finalizeCanceled(taskID); err != nil {
			return PullOutcome{}, err
		}
		return PullOutcome{Kind: PullCanceled, TaskID: taskID}, nil
	}

	var staged types.StagedTask
	var missing bool
	err := retry.CAS("scheduler.PullTask", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			return err
		}
		resolved, err := s.repo.ResolveStagedTask(task)
		if err != nil {
			if !domerr.Is(err, domerr.NotFound) {
				return err
			}
			if ferr := taskfsm.FailStaged(task, types.FailureResourceMissing, err.Error(), time.Now()); ferr != nil {
				return ferr
			}
			if err := s.repo.UpdateTask(task, version); err != nil {
				return err
			}
			missing = true
			return nil
		}
		if err := taskfsm.Pull(task, workerID, time.Now()); err != nil {
			return err
		}
		if err := s.repo.UpdateTask(task, version); err != nil {
			return err
		}
		staged = resolved
		return nil
	})
	if err != nil {
		return PullOutcome{}, err
	}

	if missing {
		s.mu.Lock()
		delete(s.leases, taskID)
		s.mu.Unlock()
		s.onAudit(types.AuditEntry{User: "scheduler", Message: "resource_missing task=" + taskID, Result: false})
		return PullOutcome{Kind: PullFailed, TaskID: taskID}, nil
	}

	if hadPublishTime {
		metrics.SchedulingLatency.Observe(time.Since(publishedAt).Seconds())
	}

	s.mu.Lock()
	s.workers[workerID] = &workerEntry{lastHeartbeat: time.Now(), status: workerBusy, assignedTask: taskID}
	s.leases[taskID] = time.Now().Add(30 * time.Second)
	metrics.RegisteredWorkers.Set(float64(len(s.workers)))
	s.mu.Unlock()

	return PullOutcome{Kind: PullStaged, Task: &staged}, nil
}

// Heartbeat records a worker's liveness report and decides what
// command it should act on next.
func (s *Scheduler) Heartbeat(workerID string, status ReportedStatus) (Command, error) {
	now := time.Now()

	s.mu.Lock()
	entry, ok := s.workers[workerID]
	if !ok {
		entry = &workerEntry{status: workerIdle}
		s.workers[workerID] = entry
	}
	entry.lastHeartbeat = now
	assigned := entry.assignedTask
	isCanceled := assigned != "" && s.cancellations[assigned]
	queueNonEmpty := len(s.queue) > 0
	s.mu.Unlock()

	if isCanceled {
		if err := s.finalizeCanceled(assigned); err != nil {
			return NoAction, err
		}
		s.mu.Lock()
		entry.assignedTask = ""
		entry.status = workerIdle
		delete(s.leases, assigned)
		s.mu.Unlock()
		return Stop, nil
	}

	if status == Executing && assigned != "" {
		s.mu.Lock()
		s.leases[assigned] = now.Add(30 * time.Second)
		s.mu.Unlock()

		err := retry.CAS("scheduler.Heartbeat", func() error {
			task, version, err := s.repo.GetTask(assigned)
			if err != nil {
				return err
			}
			if err := taskfsm.Heartbeat(task, workerID, now); err != nil {
				return err
			}
			return s.repo.UpdateTask(task, version)
		})
		if err != nil {
			return NoAction, err
		}
	}

	if status == Idle && queueNonEmpty {
		return NewTask, nil
	}
	return NoAction, nil
}

// UpdateTaskResult authenticates that workerID holds the lease,
// transitions the task to Finished/Failed, cmacs every output file the
// worker wrote, and clears the worker's assignment.
func (s *Scheduler) UpdateTaskResult(workerID, taskID string, result *types.TaskResult) error {
	var finished bool
	err := retry.CAS("scheduler.UpdateTaskResult", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			return err
		}
		if err := taskfsm.Complete(task, workerID, result, time.Now()); err != nil {
			return err
		}
		finished = task.Status == types.TaskFinished
		return s.repo.UpdateTask(task, version)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.leases, taskID)
	if entry, ok := s.workers[workerID]; ok {
		entry.assignedTask = ""
		entry.status = workerIdle
	}
	s.mu.Unlock()

	if finished {
		if err := s.cmacOutputFiles(taskID, result); err != nil {
			return err
		}
	}
	return nil
}

// cmacOutputFiles seals and tags the plaintext a worker reported for
// each output slot, attaching the tag to the corresponding OutputFile
// record (spec §4.3's Complete effect: "attach result; cmac output
// files"). A slot with no reported payload is left untouched.
func (s *Scheduler) cmacOutputFiles(taskID string, result *types.TaskResult) error {
	for slot, outputID := range result.OutputFiles {
		payload, ok := result.OutputPayloads[slot]
		if !ok {
			continue
		}
		f, err := s.repo.GetOutputFile(outputID)
		if err != nil {
			return err
		}
		nonce, err := crypto.NewNonce()
		if err != nil {
			return err
		}
		_, tag, err := crypto.ComputeTag(f.FileCrypto.Key, nonce, payload, []byte(taskID))
		if err != nil {
			return err
		}
		f.Cmac = &tag
		if err := s.repo.UpdateOutputFile(f); err != nil {
			return err
		}
	}
	return nil
}

// RunFailureDetection drives the once-per-second tick described in
// spec.md §4.5 until stop is closed.
func (s *Scheduler) RunFailureDetection(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.detectFailuresOnce()
		}
	}
}

func (s *Scheduler) detectFailuresOnce() {
	now := time.Now()

	s.mu.Lock()
	var expiredTasks []string
	for taskID, deadline := range s.leases {
		if deadline.Before(now) {
			expiredTasks = append(expiredTasks, taskID)
		}
	}
	var lostWorkers []string
	for workerID, entry := range s.workers {
		if entry.status != workerLost && now.Sub(entry.lastHeartbeat) > lostAfter {
			lostWorkers = append(lostWorkers, workerID)
		}
	}
	s.mu.Unlock()

	for _, taskID := range expiredTasks {
		s.failExpiredLease(taskID)
	}
	for _, workerID := range lostWorkers {
		s.markWorkerLost(workerID)
	}
}

func (s *Scheduler) failExpiredLease(taskID string) {
	err := retry.CAS("scheduler.LeaseExpired", func() error {
		task, version, err := s.repo.GetTask(taskID)
		if err != nil {
			if domerr.Is(err, domerr.NotFound) {
				return nil
			}
			return err
		}
		if task.Status != types.TaskRunning {
			return nil // already resolved by a racing Complete/Cancel
		}
		if err := taskfsm.LeaseExpired(task, time.Now()); err != nil {
			return err
		}
		return s.repo.UpdateTask(task, version)
	})

	s.mu.Lock()
	delete(s.leases, taskID)
	s.mu.Unlock()

	if err != nil {
		log.WithComponent("scheduler").Error().Err(err).Str("task_id", taskID).Msg("failed to fail expired lease")
		return
	}
	metrics.LeaseExpiriesTotal.Inc()
	s.onAudit(types.AuditEntry{User: "scheduler", Message: "lease_expired task=" + taskID, Result: true})
}

func (s *Scheduler) markWorkerLost(workerID string) {
	s.mu.Lock()
	entry, ok := s.workers[workerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.status = workerLost
	assigned := entry.assignedTask
	s.mu.Unlock()

	if assigned == "" {
		return
	}
	s.failExpiredLease(assigned)
}
