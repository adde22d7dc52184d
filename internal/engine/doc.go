// Package engine implements the synchronization and message-delivery core.
//
// The moving parts, leaves first:
//
//   - Registry: the single live connection per session identity. Purely a
//     liveness cache; never authoritative for delivery state.
//   - Throttle: per-connection rate limiter for liveness-timestamp writes.
//   - Dispatcher: the façade everything else calls to push an event toward
//     a session. Sends live when it can, persists to the pending backlog
//     when it cannot, and replays the backlog on reconnect.
//   - FilterDeliverable: orders backlog replay so a child tree node is
//     never delivered before its still-unsynced parent.
//   - Reconciler: rewrites a temporary bookmark id to its browser-confirmed
//     final id across the stored tree and the still-pending backlog, then
//     re-dispatches whatever the rewrite unblocked.
//
// Delivery is at-least-once: a send that succeeds on the wire without the
// result being observed may repeat on the next flush. Entity operations
// tolerate this through idempotent store writes and id reconciliation.
//
// The Dispatcher never surfaces delivery failure to its caller; it degrades
// to persistence instead. Only a failure to persist propagates, because at
// that point the event would otherwise be lost.
package engine
