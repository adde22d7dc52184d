package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Session is one browser-extension installation. The id is generated
// client-side on first install and reused across reconnects.
type Session struct {
	ID              string
	UserID          string
	Name            string
	Browser         string
	OS              string
	Arch            string
	CreatedAt       time.Time
	LastConnectedAt *time.Time
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess Session
		name sql.NullString
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, browser, os, arch, created_at, last_connected_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &name, &sess.Browser, &sess.OS, &sess.Arch, &sess.CreatedAt, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.Name = name.String
	if last.Valid {
		t := last.Time
		sess.LastConnectedAt = &t
	}
	return sess, nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, browser, os, arch)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Browser, sess.OS, sess.Arch)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// ListSessionsByUser returns all sessions registered to an account,
// newest first.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, browser, os, arch, created_at, last_connected_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess Session
			name sql.NullString
			last sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &name, &sess.Browser, &sess.OS, &sess.Arch, &sess.CreatedAt, &last); err != nil {
			return nil, fmt.Errorf("list sessions: scan: %w", err)
		}
		sess.Name = name.String
		if last.Valid {
			t := last.Time
			sess.LastConnectedAt = &t
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// TouchSession records a liveness timestamp. Callers are expected to
// rate-limit through engine.Throttle; this writes unconditionally.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_connected_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteSession removes a session owned by the user. Returns the number of
// rows deleted; deleting an unknown session is not an error.
func (s *Store) DeleteSession(ctx context.Context, userID, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE user_id = ? AND id = ?
	`, userID, id)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session: rows affected: %w", err)
	}
	return n, nil
}
