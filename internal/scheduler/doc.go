/*
Package scheduler implements the Scheduler Service (component E in
spec.md §4.5): the ready queue, worker registry, heartbeat/lease
tracking, and cancellation fanout that sit between Management staging
a task and a worker executing it.

State lives in memory — a FIFO ready queue, a worker registry keyed by
worker id, a cancellation set, and a lease table — while every task
state transition is still persisted through internal/repository via
internal/taskfsm, so a Scheduler process restart only loses queue
position, never task state. RecoverReadyQueue rebuilds the in-memory
queue at startup by enumerating tasks left in Staged, ordered by their
last update time as a proxy for true publish order (spec.md's Open
Question on queue recovery, resolved in SPEC_FULL.md).

A background tick, once per second, scans the lease table for expired
leases and the worker registry for silent workers, failing a silent
worker's task through the same taskfsm.LeaseExpired path an expired
lease takes.
*/
package scheduler
