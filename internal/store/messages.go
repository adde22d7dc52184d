package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unsearch/syncd/internal/msg"
)

// Pending message statuses. The only legal transition is pending -> sent.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// PendingMessage is one durable envelope in a session's backlog.
type PendingMessage struct {
	ID        string
	UserID    string
	SessionID string
	Kind      msg.Kind
	Payload   json.RawMessage
	Status    string
	CreatedAt time.Time
	SentAt    *time.Time
}

// EnqueuePending persists an undeliverable sync event, applying the
// coalescing rules first:
//
//   - an update or move aimed at an entity whose BOOKMARKS_CREATE is still
//     pending folds its fields into that create's payload instead of adding
//     a second row (the target session has not materialized the entity, so
//     there is nothing to update independently)
//   - a remove aimed at a pending create deletes the create outright; an
//     entity created and removed before ever syncing need not sync at all
//
// This bounds backlog growth to roughly one row per unsynced entity.
//
// Returns the id of the surviving row, or "" when the event coalesced away
// entirely (the remove-cancels-create case).
func (s *Store) EnqueuePending(ctx context.Context, userID, sessionID string, kind msg.Kind, payload json.RawMessage) (string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return "", fmt.Errorf("enqueue pending: begin tx: %w", err)
	}
	defer tx.Rollback()

	switch kind {
	case msg.KindBookmarksUpdate:
		update, err := msg.DecodeBookmarksUpdate(payload)
		if err != nil {
			return "", fmt.Errorf("enqueue pending: %w", err)
		}
		id, create, ok, err := pendingCreateFor(ctx, tx, userID, sessionID, update.ID)
		if err != nil {
			return "", err
		}
		if ok {
			if update.Changes.Title != nil {
				create.CreateDetails.Title = *update.Changes.Title
			}
			if update.Changes.URL != nil {
				create.CreateDetails.URL = *update.Changes.URL
			}
			if err := rewritePending(ctx, tx, id, create); err != nil {
				return "", err
			}
			if err := tx.Commit(); err != nil {
				return "", fmt.Errorf("enqueue pending: commit: %w", err)
			}
			return id, nil
		}

	case msg.KindBookmarksMove:
		move, err := msg.DecodeBookmarksMove(payload)
		if err != nil {
			return "", fmt.Errorf("enqueue pending: %w", err)
		}
		id, create, ok, err := pendingCreateFor(ctx, tx, userID, sessionID, move.ID)
		if err != nil {
			return "", err
		}
		if ok {
			create.CreateDetails.ParentID = move.Destination.ParentID
			idx := move.Destination.Index
			create.CreateDetails.Index = &idx
			if err := rewritePending(ctx, tx, id, create); err != nil {
				return "", err
			}
			if err := tx.Commit(); err != nil {
				return "", fmt.Errorf("enqueue pending: commit: %w", err)
			}
			return id, nil
		}

	case msg.KindBookmarksRemove:
		var remove msg.BookmarksDeletePayload
		if err := json.Unmarshal(payload, &remove); err != nil {
			return "", fmt.Errorf("enqueue pending: decode remove: %w", err)
		}
		id, _, ok, err := pendingCreateFor(ctx, tx, userID, sessionID, remove.ID)
		if err != nil {
			return "", err
		}
		if ok {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM pending_messages WHERE id = ?
			`, id); err != nil {
				return "", fmt.Errorf("enqueue pending: cancel create: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return "", fmt.Errorf("enqueue pending: commit: %w", err)
			}
			return "", nil
		}
	}

	id := s.newID()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pending_messages (id, user_id, session_id, kind, payload)
		VALUES (?, ?, ?, ?, ?)
	`, id, userID, sessionID, string(kind), string(payload)); err != nil {
		return "", fmt.Errorf("enqueue pending: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("enqueue pending: commit: %w", err)
	}
	return id, nil
}

// pendingCreateFor finds the still-pending BOOKMARKS_CREATE for an entity,
// if one exists for this (user, session).
func pendingCreateFor(ctx context.Context, tx *sql.Tx, userID, sessionID, entityID string) (string, msg.BookmarksCreatePayload, bool, error) {
	var (
		id      string
		payload string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, payload FROM pending_messages
		WHERE user_id = ? AND session_id = ? AND kind = ? AND status = ?
		  AND json_extract(payload, '$.id') = ?
	`, userID, sessionID, string(msg.KindBookmarksCreate), StatusPending, entityID).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", msg.BookmarksCreatePayload{}, false, nil
	}
	if err != nil {
		return "", msg.BookmarksCreatePayload{}, false, fmt.Errorf("enqueue pending: find create: %w", err)
	}

	var create msg.BookmarksCreatePayload
	if err := json.Unmarshal([]byte(payload), &create); err != nil {
		return "", msg.BookmarksCreatePayload{}, false, fmt.Errorf("enqueue pending: decode create: %w", err)
	}
	return id, create, true, nil
}

// rewritePending replaces a pending row's payload inside the enqueue
// transaction.
func rewritePending(ctx context.Context, tx *sql.Tx, id string, create msg.BookmarksCreatePayload) error {
	b, err := json.Marshal(create)
	if err != nil {
		return fmt.Errorf("enqueue pending: marshal merged create: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_messages SET payload = ? WHERE id = ? AND status = ?
	`, string(b), id, StatusPending); err != nil {
		return fmt.Errorf("enqueue pending: rewrite create: %w", err)
	}
	return nil
}

// ListPendingBySession returns a session's pending backlog in creation
// order. created_at has whole-second resolution, so ties break on rowid,
// which follows insertion order; replay order is deterministic.
func (s *Store) ListPendingBySession(ctx context.Context, sessionID string) ([]PendingMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, kind, payload, status, created_at, sent_at
		FROM pending_messages
		WHERE session_id = ? AND status = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []PendingMessage
	for rows.Next() {
		m, err := scanPendingMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending: iterate: %w", err)
	}
	return out, nil
}

// ListPendingReferencingParent returns pending messages whose payload names
// parentID as a create parent or a move destination. Used by the
// reconciliation service to find backlog entries blocked on a temporary id.
func (s *Store) ListPendingReferencingParent(ctx context.Context, userID, sessionID, parentID string) ([]PendingMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, kind, payload, status, created_at, sent_at
		FROM pending_messages
		WHERE user_id = ? AND session_id = ? AND status = ?
		  AND ((kind = ? AND json_extract(payload, '$.createDetails.parentId') = ?)
		    OR (kind = ? AND json_extract(payload, '$.destination.parentId') = ?))
		ORDER BY created_at ASC, rowid ASC
	`, userID, sessionID, StatusPending,
		string(msg.KindBookmarksCreate), parentID,
		string(msg.KindBookmarksMove), parentID)
	if err != nil {
		return nil, fmt.Errorf("list pending referencing parent: %w", err)
	}
	defer rows.Close()

	var out []PendingMessage
	for rows.Next() {
		m, err := scanPendingMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending referencing parent: iterate: %w", err)
	}
	return out, nil
}

// MarkSent transitions a pending message to sent. The status guard makes
// the call idempotent and enforces that sent never reverts.
func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages SET status = ?, sent_at = ?
		WHERE id = ? AND status = ?
	`, StatusSent, at.UTC(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// UpdatePendingPayload rewrites a still-pending message's payload. Rows
// already sent are left untouched: the remote session resolved the old
// identifier through its own local id space.
func (s *Store) UpdatePendingPayload(ctx context.Context, id string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages SET payload = ?
		WHERE id = ? AND status = ?
	`, string(payload), id, StatusPending)
	if err != nil {
		return fmt.Errorf("update pending payload: %w", err)
	}
	return nil
}

// CountPendingBySession returns the number of pending rows for a session.
func (s *Store) CountPendingBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_messages WHERE session_id = ? AND status = ?
	`, sessionID, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func scanPendingMessage(rows *sql.Rows) (PendingMessage, error) {
	var (
		m       PendingMessage
		kind    string
		payload string
		sentAt  sql.NullTime
	)
	if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &kind, &payload, &m.Status, &m.CreatedAt, &sentAt); err != nil {
		return PendingMessage{}, fmt.Errorf("scan pending message: %w", err)
	}
	m.Kind = msg.Kind(kind)
	m.Payload = json.RawMessage(payload)
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return m, nil
}
