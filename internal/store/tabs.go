package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unsearch/syncd/internal/msg"
)

// InsertTabSnapshot stores a whole-state tab snapshot for the session. Each
// TABS_ADD frame produces one snapshot stamped with the same snapshot_at
// time; readers take the latest snapshot per session.
func (s *Store) InsertTabSnapshot(ctx context.Context, userID, sessionID string, tabs []msg.Tab, at time.Time) error {
	if len(tabs) == 0 {
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("insert tab snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tabs
		(pk, user_id, session_id, snapshot_at, tab_id, window_id, idx, url, title,
		 fav_icon_url, pinned, incognito, opener_tab_id, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert tab snapshot: prepare: %w", err)
	}
	defer stmt.Close()

	snapshotAt := at.UTC()
	for i, tab := range tabs {
		_, err := stmt.ExecContext(ctx,
			uuid.NewString(), userID, sessionID, snapshotAt,
			tab.TabID, tab.WindowID, tab.Index,
			nullIfEmpty(normText(tab.URL)), nullIfEmpty(normText(tab.Title)),
			nullIfEmpty(tab.FavIconURL), tab.Pinned, tab.Incognito,
			tab.OpenerTabID, tab.LastAccessed,
		)
		if err != nil {
			return fmt.Errorf("insert tab snapshot: tab %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert tab snapshot: commit: %w", err)
	}
	return nil
}

// CountTabs returns the number of tab rows stored for a session across all
// snapshots. Used by tests.
func (s *Store) CountTabs(ctx context.Context, userID, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tabs WHERE user_id = ? AND session_id = ?
	`, userID, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tabs: %w", err)
	}
	return n, nil
}
