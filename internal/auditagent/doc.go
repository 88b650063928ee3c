/*
Package auditagent implements the Audit Agent (component G in spec.md
§4.7): it runs inside the Frontend Gateway process, buffers audit
entries produced by every authenticated RPC, and periodically flushes
them to Management's save_logs RPC in batches rather than making the
hot request path wait on the audit write.

The buffer is bounded (default 10,000 entries, see SPEC_FULL.md's Open
Question decision): once full, the oldest entry is dropped and
metrics.AuditAgentEntriesDroppedTotal increments, so the failure mode
is an observable counter rather than unbounded memory growth or a
silent audit gap. A flush failure keeps the batch and retries it on
the next tick, newest entries appended behind it.
*/
package auditagent
