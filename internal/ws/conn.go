package ws

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/msg"
)

const writeTimeout = 10 * time.Second

// conn adapts one upgraded socket to engine.Conn. Writes arrive from the
// connection's own read loop (handshake replies, error signals) and from
// dispatcher goroutines pushing events, so every write goes through
// writeMu. Gorilla supports at most one concurrent writer.
type conn struct {
	sock *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	// Handshake state. Written only by the read loop; the registry and
	// dispatcher never see the conn before it is bound.
	userID    string
	sessionID string
	throttle  *engine.Throttle
}

func newConn(sock *websocket.Conn) *conn {
	return &conn{sock: sock}
}

func (c *conn) authed() bool { return c.userID != "" }
func (c *conn) bound() bool  { return c.sessionID != "" }

// Send implements engine.Conn. A non-nil error means the frame did not
// reach the transport and the caller should fall back to the backlog.
func (c *conn) Send(kind msg.Kind, payload any) error {
	frame, err := msg.Encode(kind, payload)
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// sendOrLog writes a frame where failure only matters to the log; the
// read loop will notice a dead socket on its next read.
func (c *conn) sendOrLog(kind msg.Kind, payload any) {
	if err := c.Send(kind, payload); err != nil {
		slog.Debug("reply write failed",
			"session_id", c.sessionID,
			"kind", kind,
			"error", err,
		)
	}
}

// sendError pushes the generic failure signal. The message is
// deliberately vague; details stay server-side.
func (c *conn) sendError(message string) {
	c.sendOrLog(msg.KindError, msg.ErrorPayload{Message: message})
}

// Close implements engine.Conn. Idempotent, callable from any goroutine;
// closing the socket unblocks the read loop.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.sock.Close()
	})
	return c.closeErr
}
