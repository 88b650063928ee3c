/*
Package management implements the Management Service (component D in
spec.md §4.4): task authoring, file/function registration, and
storage, fronting internal/repository and internal/taskfsm.

For every state-changing RPC the Service: (1) authenticates the caller
against an accesscontrol.Oracle; (2) reads the target entity; (3)
applies internal/taskfsm; (4) persists via compare-and-swap, retrying
up to three times on a Stale race (internal/retry); (5) emits an audit
entry through internal/audit, including on failure. InvokeTask
additionally calls the Scheduler's Publish to enqueue the staged task,
and UpdateTaskResult delegates lease/assignment bookkeeping to the
Scheduler, since that state lives there.
*/
package management
