/*
Package audit implements the Audit Index (component F in spec.md
§4.6): an append-only, queryable log of every authenticated RPC
attempt across Management, Scheduler and Frontend.

Entries are persisted through the same internal/kv.Store used by the
Entity Repository, keyed by the entry's zero-padded microsecond
timestamp so range scans return entries in time order for free. A
hand-rolled inverted index (term -> set of entry keys) supports the
small boolean/field query grammar described in SPEC_FULL.md:

	user:alice AND result:false
	task-abc123
	result:false OR user:bob

No full-text search library exists anywhere in the retrieved example
pack (checked for a Bleve/Tantivy-equivalent and found none), so the
index itself is intentionally minimal: exact-term postings only, no
stemming, no relevance scoring. See DESIGN.md for the justification.
*/
package audit
