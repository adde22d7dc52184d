package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unsearch/syncd/internal/msg"
)

// Bookmark is one tree node owned by (user, session). ID is the external,
// client-assigned identifier; PK is the durable internal key that survives
// id reassignment. An empty ParentID means the node is a root.
type Bookmark struct {
	PK                string
	UserID            string
	SessionID         string
	ID                string
	ParentID          string
	Index             *int
	Title             string
	URL               string
	DateAdded         *int64
	DateGroupModified *int64
	DateLastUsed      *int64
}

// CreateBookmark inserts a bookmark row. A row with the same
// (user, session, id) already present is left untouched: replayed creates
// are idempotent.
func (s *Store) CreateBookmark(ctx context.Context, b Bookmark) error {
	if b.PK == "" {
		b.PK = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks
		(pk, user_id, session_id, id, parent_id, idx, title, url,
		 date_added, date_group_modified, date_last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id, id) DO NOTHING
	`,
		b.PK, b.UserID, b.SessionID, b.ID,
		nullIfEmpty(b.ParentID), b.Index, normText(b.Title), normText(b.URL),
		b.DateAdded, b.DateGroupModified, b.DateLastUsed,
	)
	if err != nil {
		return fmt.Errorf("create bookmark: %w", err)
	}
	return nil
}

// InsertBookmarkTree stores a whole bookmark forest in one transaction.
// Traversal is iterative with an explicit stack so arbitrarily deep trees
// cannot grow the call stack. Parents are inserted before their children.
func (s *Store) InsertBookmarkTree(ctx context.Context, userID, sessionID string, forest []msg.BookmarkNode) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("insert bookmark tree: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bookmarks
		(pk, user_id, session_id, id, parent_id, idx, title, url,
		 date_added, date_group_modified, date_last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id, id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("insert bookmark tree: prepare: %w", err)
	}
	defer stmt.Close()

	// LIFO order does not matter for correctness here: each node names its
	// parent by id, and a child popped before an unrelated subtree still
	// follows its own parent, which was pushed (and inserted) earlier.
	stack := make([]*msg.BookmarkNode, 0, len(forest))
	for i := range forest {
		stack = append(stack, &forest[i])
	}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		_, err := stmt.ExecContext(ctx,
			uuid.NewString(), userID, sessionID, node.ID,
			nullIfEmpty(node.ParentID), node.Index, normText(node.Title), normText(node.URL),
			node.DateAdded, node.DateGroupModified, node.DateLastUsed,
		)
		if err != nil {
			return fmt.Errorf("insert bookmark tree: node %s: %w", node.ID, err)
		}
		for i := range node.Children {
			stack = append(stack, &node.Children[i])
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert bookmark tree: commit: %w", err)
	}
	return nil
}

// UpdateBookmark applies title/url changes. Returns the number of rows
// changed (zero for an unknown id, which is not an error).
func (s *Store) UpdateBookmark(ctx context.Context, userID, sessionID, id string, changes msg.BookmarkChanges) (int64, error) {
	set := ""
	args := []any{}
	if changes.Title != nil {
		set += "title = ?"
		args = append(args, normText(*changes.Title))
	}
	if changes.URL != nil {
		if set != "" {
			set += ", "
		}
		set += "url = ?"
		args = append(args, normText(*changes.URL))
	}
	if set == "" {
		return 0, nil
	}
	args = append(args, userID, sessionID, id)

	res, err := s.db.ExecContext(ctx, `
		UPDATE bookmarks SET `+set+`
		WHERE user_id = ? AND session_id = ? AND id = ?
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("update bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update bookmark: rows affected: %w", err)
	}
	return n, nil
}

// MoveBookmark re-parents and re-orders a bookmark. Returns the number of
// rows changed.
func (s *Store) MoveBookmark(ctx context.Context, userID, sessionID, id string, dest msg.BookmarkDestination) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookmarks SET parent_id = ?, idx = ?
		WHERE user_id = ? AND session_id = ? AND id = ?
	`, nullIfEmpty(dest.ParentID), dest.Index, userID, sessionID, id)
	if err != nil {
		return 0, fmt.Errorf("move bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("move bookmark: rows affected: %w", err)
	}
	return n, nil
}

// DeleteBookmark removes a bookmark or folder. Children of a deleted folder
// are kept and their parent reference cleared; removal never cascades.
// Deleting an unknown id affects zero rows and returns no error.
func (s *Store) DeleteBookmark(ctx context.Context, userID, sessionID, id string) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete bookmark: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE bookmarks SET parent_id = NULL
		WHERE user_id = ? AND session_id = ? AND parent_id = ?
	`, userID, sessionID, id)
	if err != nil {
		return 0, fmt.Errorf("delete bookmark: clear children: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM bookmarks
		WHERE user_id = ? AND session_id = ? AND id = ?
	`, userID, sessionID, id)
	if err != nil {
		return 0, fmt.Errorf("delete bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete bookmark: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete bookmark: commit: %w", err)
	}
	return n, nil
}

// GetBookmark returns one bookmark by its external id, or ErrNotFound.
func (s *Store) GetBookmark(ctx context.Context, userID, sessionID, id string) (Bookmark, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pk, user_id, session_id, id, parent_id, idx, title, url,
		       date_added, date_group_modified, date_last_used
		FROM bookmarks
		WHERE user_id = ? AND session_id = ? AND id = ?
	`, userID, sessionID, id)
	return scanBookmark(row)
}

// ListBookmarkChildren returns the direct children of the bookmark with the
// given external id, ordered by idx.
func (s *Store) ListBookmarkChildren(ctx context.Context, userID, sessionID, parentID string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, user_id, session_id, id, parent_id, idx, title, url,
		       date_added, date_group_modified, date_last_used
		FROM bookmarks
		WHERE user_id = ? AND session_id = ? AND parent_id = ?
		ORDER BY idx ASC, id ASC
	`, userID, sessionID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list bookmark children: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookmark children: iterate: %w", err)
	}
	return out, nil
}

// ReassignBookmarkID swaps a bookmark's temporary external id for the final
// id the session's browser assigned, inside one atomic transaction:
//
//  1. locate the entity row by previousID and capture its internal key
//  2. null out the parent reference on every child pointing at previousID
//     (bridges the (user, session, id) uniqueness during the swap; the
//     null is transient within the transaction)
//  3. update the entity's external id to newID
//  4. re-point exactly the bridged children at newID
//
// On any failure the transaction rolls back and previousID stays
// authoritative; no partial tree state is ever observable. Returns
// ErrNotFound when no row has previousID.
func (s *Store) ReassignBookmarkID(ctx context.Context, userID, sessionID, previousID, newID string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("reassign bookmark id: begin tx: %w", err)
	}
	defer tx.Rollback()

	var pk string
	err = tx.QueryRowContext(ctx, `
		SELECT pk FROM bookmarks
		WHERE user_id = ? AND session_id = ? AND id = ?
	`, userID, sessionID, previousID).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reassign bookmark id: locate entity: %w", err)
	}

	// Capture the exact children being bridged: a plain
	// "WHERE parent_id IS NULL" in step 4 would also catch rows that were
	// legitimately parentless before the swap.
	childRows, err := tx.QueryContext(ctx, `
		SELECT pk FROM bookmarks
		WHERE user_id = ? AND session_id = ? AND parent_id = ?
	`, userID, sessionID, previousID)
	if err != nil {
		return fmt.Errorf("reassign bookmark id: list children: %w", err)
	}
	var children []string
	for childRows.Next() {
		var childPK string
		if err := childRows.Scan(&childPK); err != nil {
			childRows.Close()
			return fmt.Errorf("reassign bookmark id: scan child: %w", err)
		}
		children = append(children, childPK)
	}
	if err := childRows.Err(); err != nil {
		childRows.Close()
		return fmt.Errorf("reassign bookmark id: iterate children: %w", err)
	}
	childRows.Close()

	for _, childPK := range children {
		if _, err := tx.ExecContext(ctx, `
			UPDATE bookmarks SET parent_id = NULL WHERE pk = ?
		`, childPK); err != nil {
			return fmt.Errorf("reassign bookmark id: bridge child: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bookmarks SET id = ? WHERE pk = ?
	`, newID, pk); err != nil {
		return fmt.Errorf("reassign bookmark id: update entity: %w", err)
	}

	for _, childPK := range children {
		if _, err := tx.ExecContext(ctx, `
			UPDATE bookmarks SET parent_id = ? WHERE pk = ?
		`, newID, childPK); err != nil {
			return fmt.Errorf("reassign bookmark id: repoint child: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reassign bookmark id: commit: %w", err)
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row scanner) (Bookmark, error) {
	var (
		b        Bookmark
		parentID sql.NullString
		idx      sql.NullInt64
		url      sql.NullString
		added    sql.NullInt64
		grpMod   sql.NullInt64
		lastUsed sql.NullInt64
	)
	err := row.Scan(&b.PK, &b.UserID, &b.SessionID, &b.ID, &parentID, &idx,
		&b.Title, &url, &added, &grpMod, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Bookmark{}, ErrNotFound
	}
	if err != nil {
		return Bookmark{}, fmt.Errorf("scan bookmark: %w", err)
	}
	b.ParentID = parentID.String
	b.URL = url.String
	if idx.Valid {
		i := int(idx.Int64)
		b.Index = &i
	}
	if added.Valid {
		v := added.Int64
		b.DateAdded = &v
	}
	if grpMod.Valid {
		v := grpMod.Int64
		b.DateGroupModified = &v
	}
	if lastUsed.Valid {
		v := lastUsed.Int64
		b.DateLastUsed = &v
	}
	return b, nil
}

// nullIfEmpty maps "" to NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
