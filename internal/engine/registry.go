package engine

import (
	"sync"

	"github.com/unsearch/syncd/internal/msg"
)

// Conn is the engine's view of one live session transport. The ws package
// implements it; tests substitute fakes.
type Conn interface {
	// Send encodes and writes one frame. A non-nil error means the frame
	// was not handed to the transport and the caller should fall back to
	// persistence.
	Send(kind msg.Kind, payload any) error
	// Close tears down the underlying transport. Must be idempotent.
	Close() error
}

// Registry holds the single live connection per session. At most one
// connection per session id; registering over an existing entry replaces it
// (last writer wins - no dual-connection support).
//
// The registry is shared mutable state touched from every
// connection-handling goroutine; all access goes through the mutex.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register installs conn as the live connection for the session,
// unconditionally replacing any prior handle. The replaced connection (nil
// if none) is returned so the caller can close it.
func (r *Registry) Register(sessionID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[sessionID]
	r.conns[sessionID] = conn
	return prev
}

// Lookup returns the live connection for a session, if any.
func (r *Registry) Lookup(sessionID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[sessionID]
	return conn, ok
}

// Remove drops the session's entry, but only if it still maps to conn. The
// identity check keeps a slow close of a replaced connection from evicting
// its successor.
func (r *Registry) Remove(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[sessionID] == conn {
		delete(r.conns, sessionID)
	}
}

// ForceClose removes the session's connection and closes its transport.
// A no-op when the session has no live connection.
func (r *Registry) ForceClose(sessionID string) {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	if ok {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()

	// Close outside the lock: transports may block.
	if ok {
		conn.Close()
	}
}

// Len returns the number of live connections. Used for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
