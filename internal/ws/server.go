package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/msg"
	"github.com/unsearch/syncd/internal/store"
)

// DefaultHandshakeTimeout bounds how long a fresh socket may sit without
// completing AUTH and ID.
const DefaultHandshakeTimeout = 15 * time.Second

// Config carries the server's tunables.
type Config struct {
	Addr              string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
}

// Server accepts websocket connections from browser sessions and drives
// the frame protocol over the store and engine.
type Server struct {
	cfg        Config
	store      *store.Store
	dispatcher *engine.Dispatcher
	reconciler *engine.Reconciler
	registry   *engine.Registry
	verifier   *TokenVerifier

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer wires the websocket edge. Zero timeouts fall back to
// defaults.
func NewServer(cfg Config, st *store.Store, d *engine.Dispatcher, r *engine.Reconciler, verifier *TokenVerifier) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = engine.DefaultHeartbeatInterval
	}
	s := &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		reconciler: r,
		registry:   d.Registry(),
		verifier:   verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Extensions connect from browser extension contexts; the
			// Origin header is not a useful gate here, the token is.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler performing the websocket upgrade.
// Exposed so tests can mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	return mux
}

// ListenAndServe blocks serving connections until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("websocket server listening", "addr", s.cfg.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting upgrades and closes the listener. Established
// websocket connections are hijacked from the HTTP server and are closed
// through the registry instead.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	go s.readLoop(newConn(sock))
}

// readLoop owns the connection: it reads frames in arrival order and
// runs each handler to completion before the next read, which is what
// keeps one session's operations ordered.
func (s *Server) readLoop(c *conn) {
	defer func() {
		if c.bound() {
			// Identity-checked: if a reconnect already replaced this
			// conn, its entry stays.
			s.registry.Remove(c.sessionID, c)
		}
		c.Close()
	}()

	// Sockets that never finish the handshake do not get to idle. The
	// deadline is lifted once the session is bound.
	c.sock.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))

	for {
		_, frame, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("connection closed", "session_id", c.sessionID, "error", err)
			}
			return
		}
		s.handleFrame(context.Background(), c, frame)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *conn, frame []byte) {
	env, err := msg.DecodeEnvelope(frame)
	if err != nil {
		slog.Debug("malformed frame", "session_id", c.sessionID, "error", err)
		return
	}

	// Any inbound frame is proof of life; persist it at most once per
	// heartbeat interval.
	if c.bound() && c.throttle.Allow() {
		if err := s.store.TouchSession(ctx, c.sessionID, time.Now()); err != nil {
			slog.Error("session touch failed", "session_id", c.sessionID, "error", err)
		}
	}

	switch env.Type {
	case msg.KindAuth:
		s.handleAuth(c, env.Payload)
	case msg.KindID:
		s.handleID(ctx, c, env.Payload)
	case msg.KindPing:
		// Liveness only; the touch above already did the work.
	default:
		s.handleEntity(ctx, c, env)
	}
}

// handleAuth verifies the bearer token and remembers the account. A bad
// token gets no reply at all; the handshake deadline will reap the
// socket.
func (s *Server) handleAuth(c *conn, payload []byte) {
	p, err := msg.DecodeAuth(payload)
	if err != nil {
		slog.Debug("invalid auth payload", "error", err)
		return
	}
	userID, err := s.verifier.Verify(p.Token)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return
	}
	c.userID = userID
	c.sendOrLog(msg.KindAuthSuccess, nil)
}

// handleID binds the connection to a session, flushes the backlog and
// asks the client whether it needs a full initial upload.
func (s *Server) handleID(ctx context.Context, c *conn, payload []byte) {
	if !c.authed() {
		c.sendError("Unauthorized")
		return
	}
	p, err := msg.DecodeID(payload)
	if err != nil {
		slog.Debug("invalid id payload", "user_id", c.userID, "error", err)
		return
	}

	sess, err := s.store.GetSession(ctx, p.ID)
	switch {
	case err == nil:
		if sess.UserID != c.userID {
			// The id belongs to another account. Indistinguishable from
			// an unknown session on purpose.
			slog.Warn("session bind refused", "session_id", p.ID, "user_id", c.userID)
			c.sendError("Session not found")
			return
		}
	case errors.Is(err, store.ErrNotFound):
		create := store.Session{
			ID:      p.ID,
			UserID:  c.userID,
			Browser: p.Browser,
			OS:      p.OS,
			Arch:    p.Arch,
		}
		if err := s.store.CreateSession(ctx, create); err != nil {
			slog.Error("create session failed", "session_id", p.ID, "error", err)
			c.sendError("")
			return
		}
	default:
		slog.Error("session lookup failed", "session_id", p.ID, "error", err)
		c.sendError("")
		return
	}

	c.sessionID = p.ID
	c.throttle = engine.NewThrottle(s.cfg.HeartbeatInterval)
	c.sock.SetReadDeadline(time.Time{})

	if prev := s.registry.Register(p.ID, c); prev != nil {
		prev.Close()
	}
	c.sendOrLog(msg.KindIDSuccess, nil)

	if n, err := s.dispatcher.Flush(ctx, p.ID); err != nil {
		slog.Error("backlog flush failed", "session_id", p.ID, "error", err)
	} else if n > 0 {
		slog.Info("backlog flushed", "session_id", p.ID, "messages", n)
	}

	// Asks the client to run its first-connect upload if this session
	// has never synced before.
	c.sendOrLog(msg.KindHistoryInit, nil)
}

// handleEntity routes the post-handshake kinds. Shape-invalid payloads
// are logged and dropped; storage failures answer with the generic
// error signal so the client can re-send.
func (s *Server) handleEntity(ctx context.Context, c *conn, env msg.Envelope) {
	if !c.authed() || !c.bound() {
		c.sendError("Unauthorized")
		return
	}

	var (
		opErr   error
		decErr  error
		message string
	)
	switch env.Type {
	case msg.KindBookmarksAdd:
		var p msg.BookmarksAddPayload
		if p, decErr = msg.DecodeBookmarksAdd(env.Payload); decErr == nil {
			opErr = s.store.InsertBookmarkTree(ctx, c.userID, c.sessionID, p.Bookmarks)
		}

	case msg.KindBookmarksUpdate:
		var p msg.BookmarksUpdatePayload
		if p, decErr = msg.DecodeBookmarksUpdate(env.Payload); decErr == nil {
			_, opErr = s.store.UpdateBookmark(ctx, c.userID, c.sessionID, p.ID, p.Changes)
		}

	case msg.KindBookmarksMove:
		var p msg.BookmarksMovePayload
		if p, decErr = msg.DecodeBookmarksMove(env.Payload); decErr == nil {
			_, opErr = s.store.MoveBookmark(ctx, c.userID, c.sessionID, p.ID, p.Destination)
		}

	case msg.KindBookmarksDelete:
		var p msg.BookmarksDeletePayload
		if p, decErr = msg.DecodeBookmarksDelete(env.Payload); decErr == nil {
			_, opErr = s.store.DeleteBookmark(ctx, c.userID, c.sessionID, p.ID)
		}

	case msg.KindBookmarksSetID:
		var p msg.BookmarksSetIDPayload
		if p, decErr = msg.DecodeBookmarksSetID(env.Payload); decErr == nil {
			opErr = s.reconciler.Reassign(ctx, c.userID, c.sessionID, p.PreviousID, p.NewID)
			if errors.Is(opErr, store.ErrNotFound) {
				message = "Bookmark not found"
			}
		}

	case msg.KindHistoryAdd:
		var p msg.HistoryAddPayload
		if p, decErr = msg.DecodeHistoryAdd(env.Payload); decErr == nil {
			opErr = s.store.InsertHistoryItems(ctx, c.userID, c.sessionID, p)
		}

	case msg.KindHistoryDelete:
		var p msg.HistoryDeletePayload
		if p, decErr = msg.DecodeHistoryDelete(env.Payload); decErr == nil {
			if p.AllHistory {
				_, opErr = s.store.DeleteAllHistory(ctx, c.userID, c.sessionID)
			} else {
				_, opErr = s.store.DeleteHistoryURLs(ctx, c.userID, c.sessionID, p.URLs)
			}
		}

	case msg.KindTabsAdd:
		var p msg.TabsAddPayload
		if p, decErr = msg.DecodeTabsAdd(env.Payload); decErr == nil {
			opErr = s.store.InsertTabSnapshot(ctx, c.userID, c.sessionID, p, time.Now())
		}

	default:
		slog.Debug("unexpected message", "session_id", c.sessionID, "kind", env.Type)
		return
	}

	if decErr != nil {
		slog.Debug("invalid payload",
			"session_id", c.sessionID,
			"kind", env.Type,
			"error", decErr,
		)
		return
	}
	if opErr != nil {
		slog.Error("frame handler failed",
			"session_id", c.sessionID,
			"kind", env.Type,
			"error", opErr,
		)
		c.sendError(message)
	}
}
