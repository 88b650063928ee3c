/*
Package repository implements the Entity Repository (component B in
spec.md §4.2): typed, JSON-encoded views over the raw kv.Store, plus
id minting and the per-task optimistic-concurrency contract every
state-changing RPC in the Management and Scheduler services relies
on.

Key layout mirrors spec §4.2 exactly:

	user/<id>
	function/<id>
	input/<id>
	output/<id>
	fusion/<id>
	task/<id>
	task_index_by_user/<uid>/<tid>

Every task mutation goes through UpdateTask(task, expectedVersion),
which performs a compare-and-swap on task/<id> using the opaque
version token returned by GetTask. A mismatch surfaces as a Stale
domain error; the caller (Management, Scheduler) is expected to
re-read, reapply its change, and retry — spec.md caps this at three
attempts.
*/
package repository
