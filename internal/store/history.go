package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/unsearch/syncd/internal/msg"
)

// HistoryItem is one visit record owned by (user, session).
type HistoryItem struct {
	PK            string
	UserID        string
	SessionID     string
	ID            string
	URL           string
	Title         string
	LastVisitTime int64
	VisitCount    *int
	TypedCount    *int
}

// visitTimeKey coerces a missing visit time to 0. The value feeds the
// dedup uniqueness key, where a NULL would never match itself and every
// redelivery of the visit would insert a fresh row.
func visitTimeKey(t *int64) int64 {
	if t == nil {
		return 0
	}
	return *t
}

// InsertHistoryItems stores a batch of visit records in one transaction.
// The (user, session, id, last_visit_time) uniqueness makes redelivered
// batches idempotent: duplicate rows are silently skipped.
func (s *Store) InsertHistoryItems(ctx context.Context, userID, sessionID string, visits []msg.HistoryVisit) error {
	if len(visits) == 0 {
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("insert history items: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_items
		(pk, user_id, session_id, id, url, title, last_visit_time, visit_count, typed_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id, id, last_visit_time) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("insert history items: prepare: %w", err)
	}
	defer stmt.Close()

	for _, v := range visits {
		_, err := stmt.ExecContext(ctx,
			uuid.NewString(), userID, sessionID, v.ID,
			nullIfEmpty(normText(v.URL)), nullIfEmpty(normText(v.Title)),
			visitTimeKey(v.LastVisitTime), v.VisitCount, v.TypedCount,
		)
		if err != nil {
			return fmt.Errorf("insert history items: visit %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert history items: commit: %w", err)
	}
	return nil
}

// DeleteHistoryURLs removes all visit records for the given urls. Returns
// the number of rows deleted.
func (s *Store) DeleteHistoryURLs(ctx context.Context, userID, sessionID string, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	query := `DELETE FROM history_items WHERE user_id = ? AND session_id = ? AND url IN (?` // first placeholder
	args := []any{userID, sessionID, normText(urls[0])}
	for _, u := range urls[1:] {
		query += ", ?"
		args = append(args, normText(u))
	}
	query += ")"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete history urls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete history urls: rows affected: %w", err)
	}
	return n, nil
}

// DeleteAllHistory removes every visit record for the session.
func (s *Store) DeleteAllHistory(ctx context.Context, userID, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM history_items WHERE user_id = ? AND session_id = ?
	`, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete all history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete all history: rows affected: %w", err)
	}
	return n, nil
}

// CountHistoryItems returns the number of visit records for a session.
// Used by tests and the backlog inspector.
func (s *Store) CountHistoryItems(ctx context.Context, userID, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM history_items WHERE user_id = ? AND session_id = ?
	`, userID, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history items: %w", err)
	}
	return n, nil
}
