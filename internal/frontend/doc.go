/*
Package frontend implements the Frontend Gateway (component H in
spec.md §4 table): the entry point attested clients call, which checks
the caller's identity before forwarding every request on to Management
over internal/transport.

Every Management RPC records its own audit entry through
internal/audit while handling the request; an error from that append
is discarded and does not fail the RPC. Gateway's own
internal/auditagent buffer exists only for perimeter events Management
never sees — a rejected handshake, an unauthorized caller turned away
before the request ever reached Management. Those go through the
best-effort buffered path since there is nothing further downstream to
fail synchronously against.
*/
package frontend
