/*
Package worker drives the Execution worker pool's client-side loop:
heartbeat, pull a staged task when idle, hand it to a pluggable
Executor, and report the result back to the Scheduler. The sandboxed
code executors themselves (Python VM, WASM VM, native functions) are
out of scope; Executor is the seam an embedder plugs a real runtime
into.
*/
package worker
