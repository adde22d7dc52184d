// Package store provides SQLite-backed durable storage for the sync engine.
//
// Tables:
//   - sessions: one row per browser-extension installation
//   - bookmarks: tree-structured entities, unique per (user, session, id)
//   - history_items: append-only visit records with a dedup key
//   - tabs: whole-state tab snapshots stamped with a snapshot time
//   - pending_messages: the durable backlog of undelivered sync events
//
// Two operations carry the engine's correctness weight:
//
// EnqueuePending applies the coalescing rules: an update or move aimed at an
// entity whose create is still pending folds into that create's payload, and
// a delete aimed at a pending create cancels the create outright. The
// backlog therefore holds at most one row per unsynced entity.
//
// ReassignBookmarkID swaps a temporary bookmark id for the final
// browser-assigned one inside a single transaction, bridging the
// self-reference through NULL so the (user, session, id) uniqueness is never
// violated mid-swap. Children are re-pointed before commit; no partial tree
// state is observable.
//
// Database configuration follows the usual SQLite server recipe: WAL mode,
// synchronous=NORMAL, busy_timeout=5000, foreign_keys=ON, and a single
// writer connection.
package store
