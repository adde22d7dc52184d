package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/unsearch/syncd/internal/msg"
	"github.com/unsearch/syncd/internal/store"
)

// Reconciler retargets an entity from a temporary identifier to its
// browser-confirmed final identifier: first across the stored bookmark
// tree (one atomic transaction in the store), then across every
// still-pending backlog row that names the old identifier as a parent or
// move destination. Rewritten rows are re-dispatched immediately; the
// dependency filter no longer holds them back once the parent id is final.
//
// Reconciliations are serialized per session. SQLite's single writer would
// keep the store transaction safe on its own, but the follow-up
// rewrite-and-redeliver pass must not interleave with another reconciliation
// touching the same subtree.
type Reconciler struct {
	store      *store.Store
	dispatcher *Dispatcher

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewReconciler wires a reconciler over the store and dispatcher.
func NewReconciler(st *store.Store, d *Dispatcher) *Reconciler {
	return &Reconciler{
		store:      st,
		dispatcher: d,
		sessions:   make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing reconciliations for a session.
// Entries are never evicted; the map is bounded by the number of distinct
// sessions that reconcile during the process lifetime, one mutex each.
// TODO: drop the entry from Dispatcher.RemoveSession once it learns about
// the reconciler.
func (r *Reconciler) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.sessions[sessionID] = lock
	}
	return lock
}

// Reassign applies an id-assignment event: previousID becomes newID for the
// (user, session) pair.
//
// The stored entity and its children move atomically; see
// store.ReassignBookmarkID. After commit, pending backlog rows that name
// previousID as a create parent or move destination are rewritten to newID
// and re-dispatched. Rows already sent are untouched - the remote session
// resolved the parent through its own local identifier space.
//
// Returns store.ErrNotFound when no entity has previousID; the transaction
// rolls back and previousID stays authoritative on any failure.
func (r *Reconciler) Reassign(ctx context.Context, userID, sessionID, previousID, newID string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.ReassignBookmarkID(ctx, userID, sessionID, previousID, newID); err != nil {
		return fmt.Errorf("reassign %s -> %s: %w", previousID, newID, err)
	}

	blocked, err := r.store.ListPendingReferencingParent(ctx, userID, sessionID, previousID)
	if err != nil {
		return fmt.Errorf("reassign %s -> %s: %w", previousID, newID, err)
	}

	for _, m := range blocked {
		rewritten, err := retargetPayload(m, previousID, newID)
		if err != nil {
			slog.Error("pending payload retarget failed",
				"pending_id", m.ID,
				"kind", m.Kind,
				"error", err,
			)
			continue
		}
		if err := r.store.UpdatePendingPayload(ctx, m.ID, rewritten); err != nil {
			return fmt.Errorf("reassign %s -> %s: rewrite pending %s: %w", previousID, newID, m.ID, err)
		}
		// Now unblocked: push it back through the dispatcher as a retry
		// of the existing row.
		if err := r.dispatcher.Deliver(ctx, userID, sessionID, m.Kind, rewritten, m.ID); err != nil {
			return fmt.Errorf("reassign %s -> %s: redeliver %s: %w", previousID, newID, m.ID, err)
		}
	}
	return nil
}

// retargetPayload rewrites the parent/destination reference inside one
// pending payload.
func retargetPayload(m store.PendingMessage, previousID, newID string) (json.RawMessage, error) {
	switch m.Kind {
	case msg.KindBookmarksCreate:
		var create msg.BookmarksCreatePayload
		if err := json.Unmarshal(m.Payload, &create); err != nil {
			return nil, fmt.Errorf("decode create: %w", err)
		}
		if create.CreateDetails.ParentID == previousID {
			create.CreateDetails.ParentID = newID
		}
		b, err := json.Marshal(create)
		if err != nil {
			return nil, fmt.Errorf("encode create: %w", err)
		}
		return b, nil

	case msg.KindBookmarksMove:
		var move msg.BookmarksMovePayload
		if err := json.Unmarshal(m.Payload, &move); err != nil {
			return nil, fmt.Errorf("decode move: %w", err)
		}
		if move.Destination.ParentID == previousID {
			move.Destination.ParentID = newID
		}
		b, err := json.Marshal(move)
		if err != nil {
			return nil, fmt.Errorf("encode move: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("kind %s does not reference a parent", m.Kind)
	}
}
