/*
Package kv implements the durable, byte-keyed/byte-valued store that
is the bottom layer of the Task Lifecycle Engine (component A in
spec.md §4.1).

Two pieces compose it:

  - boltStore wraps go.etcd.io/bbolt for on-disk persistence: get,
    put, delete, enumerate-by-prefix, and a compare-and-swap primitive
    used by the Entity Repository to serialize task-row transitions.
  - Store wraps boltStore behind a single-node hashicorp/raft log, so
    every Put/Delete/CompareAndSwap is replayed through Raft's FSM
    apply path and is therefore linearizable even under concurrent
    callers from multiple RPC-handler goroutines. Spec.md explicitly
    assumes a single active instance per role (no cross-replica BFT);
    Raft here buys durable, ordered log replay and a clean snapshot/
    restore story without solving a multi-replica consensus problem
    the spec doesn't ask for.

	┌─────────────────────────────────────────────┐
	│                 kv.Store                     │
	│  Get / Enumerate -----> direct boltStore read │
	│  Put / Delete / CAS --> raft.Apply(cmd) ----> │
	│                          FSM.Apply -> boltStore│
	└─────────────────────────────────────────────┘

All values are opaque bytes; typed encoders live one layer up, in
internal/repository.
*/
package kv
