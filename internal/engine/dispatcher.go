package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/unsearch/syncd/internal/msg"
	"github.com/unsearch/syncd/internal/store"
)

// Dispatcher pushes sync events toward sessions. It is the single entry
// point for both fresh events (from frame handlers or the REST layer) and
// backlog retries on reconnect.
type Dispatcher struct {
	store    *store.Store
	registry *Registry
	now      func() time.Time
}

// NewDispatcher wires a dispatcher over the store and registry.
func NewDispatcher(st *store.Store, reg *Registry) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: reg,
		now:      time.Now,
	}
}

// Registry exposes the connection registry for callers that need liveness
// control (force-close on session removal).
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Deliver pushes one event toward a session.
//
// pendingID distinguishes the two call paths:
//
//   - pendingID == "": a fresh event. With a healthy live connection it is
//     sent immediately and nothing is persisted. With no connection, or
//     when the send fails, it is persisted through the coalescing enqueue.
//   - pendingID != "": a retry flush of an already-persisted backlog row.
//     On send success the row is marked sent; on failure it simply stays
//     pending for a future flush. No new row is ever created.
//
// Delivery failure is never an error to the caller; the event degrades to
// persistence instead. Only a failure to persist propagates, because at
// that point the event would be lost.
func (d *Dispatcher) Deliver(ctx context.Context, userID, sessionID string, kind msg.Kind, payload any, pendingID string) error {
	// Payload-less signals persist as an empty payload and replay as nil,
	// so the live and replayed frames are byte-identical.
	if raw, ok := payload.(json.RawMessage); ok && len(raw) == 0 {
		payload = nil
	}

	conn, live := d.registry.Lookup(sessionID)

	if pendingID != "" {
		if !live {
			return nil
		}
		if err := conn.Send(kind, payload); err != nil {
			slog.Debug("backlog send failed, row stays pending",
				"session_id", sessionID,
				"kind", kind,
				"pending_id", pendingID,
				"error", err,
			)
			return nil
		}
		if err := d.store.MarkSent(ctx, pendingID, d.now()); err != nil {
			// The frame is on the wire but the row stays pending, so it
			// will redeliver on a future flush. At-least-once, by
			// contract; entity handlers absorb the duplicate.
			slog.Error("mark sent failed after delivery",
				"session_id", sessionID,
				"pending_id", pendingID,
				"error", err,
			)
		}
		return nil
	}

	if live {
		if err := conn.Send(kind, payload); err == nil {
			return nil
		} else {
			slog.Debug("live send failed, falling back to backlog",
				"session_id", sessionID,
				"kind", kind,
				"error", err,
			)
		}
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("deliver %s: marshal payload: %w", kind, err)
		}
		raw = b
	}
	if _, err := d.store.EnqueuePending(ctx, userID, sessionID, kind, raw); err != nil {
		return fmt.Errorf("deliver %s: %w", kind, err)
	}
	return nil
}

// RemoveSession deletes a session's registration and tells the session
// about it. The removal signal goes through Deliver, so an offline
// session learns of its removal on next connect; a live one is
// force-closed after the signal. Returns the number of session rows
// deleted (zero when the id was unknown).
func (d *Dispatcher) RemoveSession(ctx context.Context, userID, sessionID string) (int64, error) {
	n, err := d.store.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("remove session %s: %w", sessionID, err)
	}
	if err := d.Deliver(ctx, userID, sessionID, msg.KindSessionRemove, nil, ""); err != nil {
		slog.Error("session removal signal not persisted",
			"session_id", sessionID,
			"error", err,
		)
	}
	d.registry.ForceClose(sessionID)
	return n, nil
}

// Flush replays a session's eligible backlog. Entries the dependency
// filter excludes stay pending and become eligible again on a later flush
// trigger (typically after their parent's create is acknowledged and
// reconciled).
//
// Returns the number of rows a delivery attempt was made for; rows whose
// send fails stay pending and count anyway.
func (d *Dispatcher) Flush(ctx context.Context, sessionID string) (int, error) {
	pending, err := d.store.ListPendingBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("flush session %s: %w", sessionID, err)
	}

	deliverable := FilterDeliverable(pending)
	if skipped := len(pending) - len(deliverable); skipped > 0 {
		slog.Debug("flush held back dependent messages",
			"session_id", sessionID,
			"held", skipped,
		)
	}

	delivered := 0
	for _, m := range deliverable {
		if err := d.Deliver(ctx, m.UserID, m.SessionID, m.Kind, m.Payload, m.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
