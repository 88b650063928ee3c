package kv

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
)

// opKind discriminates the mutating operations replayed through the
// Raft log. Get/Enumerate never go through Raft: in a single-leader
// deployment reading the local boltStore directly is linearizable
// with respect to the leader's own apply order.
type opKind string

const (
	opPut opKind = "put"
	opDel opKind = "del"
	opCAS opKind = "cas"
)

// command is the structure serialized into a raft.Log entry, in the
// same shape as the teacher's own Command{Op, Data} envelope.
type command struct {
	Op       opKind `json:"op"`
	Key      []byte `json:"key"`
	Value    []byte `json:"value,omitempty"`
	Expected []byte `json:"expected,omitempty"`
}

// casResult is returned from Apply for an opCAS command so callers
// can learn whether the swap actually happened.
type casResult struct {
	swapped bool
	err     error
}

// fsm implements raft.FSM over a boltStore. It holds no mutex of its
// own; Raft applies log entries to it one at a time.
type fsm struct {
	store *boltStore
}

func newFSM(store *boltStore) *fsm {
	return &fsm{store: store}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("kv.fsm: unmarshal command: %w", err)
	}

	switch cmd.Op {
	case opPut:
		return f.store.put(cmd.Key, cmd.Value)
	case opDel:
		return f.store.delete(cmd.Key)
	case opCAS:
		swapped, err := f.store.compareAndSwap(cmd.Key, cmd.Expected, cmd.Value)
		return casResult{swapped: swapped, err: err}
	default:
		return fmt.Errorf("kv.fsm: unknown op %q", cmd.Op)
	}
}

// snapshot is a point-in-time copy of every key/value pair, persisted
// verbatim and replayed wholesale on Restore.
type snapshot struct {
	Entries map[string][]byte
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	entries := make(map[string][]byte)
	err := f.store.enumerate(nil, func(k, v []byte) error {
		entries[string(k)] = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snapshot{Entries: entries}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("kv.fsm: decode snapshot: %w", err)
	}
	for k, v := range snap.Entries {
		if err := f.store.put([]byte(k), v); err != nil {
			return fmt.Errorf("kv.fsm: restore key %q: %w", k, err)
		}
	}
	return nil
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *snapshot) Release() {}
