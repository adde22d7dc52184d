package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/msg"
	"github.com/unsearch/syncd/internal/store"
)

const (
	testSecret  = "test-secret"
	testSession = "0193e4a2-b1c5-7d3e-9f01-6a2b3c4d5e6f"
)

type testHarness struct {
	store    *store.Store
	server   *Server
	verifier *TokenVerifier
	wsURL    string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "syncd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := engine.NewRegistry()
	dispatcher := engine.NewDispatcher(st, registry)
	reconciler := engine.NewReconciler(st, dispatcher)
	verifier := NewTokenVerifier(testSecret)

	srv := NewServer(Config{
		HandshakeTimeout: 2 * time.Second,
	}, st, dispatcher, reconciler, verifier)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &testHarness{
		store:    st,
		server:   srv,
		verifier: verifier,
		wsURL:    "ws" + strings.TrimPrefix(hs.URL, "http"),
	}
}

func (h *testHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(h.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sendFrame(t *testing.T, c *websocket.Conn, kind msg.Kind, payload any) {
	t.Helper()
	frame, err := msg.Encode(kind, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, c *websocket.Conn) msg.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := msg.DecodeEnvelope(frame)
	require.NoError(t, err)
	return env
}

// handshake drives AUTH and ID through to HISTORY_INIT.
func (h *testHarness) handshake(t *testing.T, c *websocket.Conn, userID, sessionID string) {
	t.Helper()

	token, err := h.verifier.Sign(userID, time.Hour)
	require.NoError(t, err)

	sendFrame(t, c, msg.KindAuth, msg.AuthPayload{Token: token})
	require.Equal(t, msg.KindAuthSuccess, readFrame(t, c).Type)

	sendFrame(t, c, msg.KindID, msg.IDPayload{ID: sessionID, Browser: "firefox", OS: "linux"})
	require.Equal(t, msg.KindIDSuccess, readFrame(t, c).Type)

	// Everything queued for the session replays between ID_SUCCESS and
	// HISTORY_INIT; callers that queued nothing see HISTORY_INIT next.
}

func drainUntil(t *testing.T, c *websocket.Conn, want msg.Kind) []msg.Envelope {
	t.Helper()
	var before []msg.Envelope
	for {
		env := readFrame(t, c)
		if env.Type == want {
			return before
		}
		before = append(before, env)
	}
}

func TestHandshake_HappyPath(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	h.handshake(t, c, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c).Type)

	sess, err := h.store.GetSession(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "firefox", sess.Browser)
}

func TestHandshake_ReusesExistingSession(t *testing.T) {
	h := newHarness(t)

	c1 := h.dial(t)
	h.handshake(t, c1, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c1).Type)
	c1.Close()

	c2 := h.dial(t)
	h.handshake(t, c2, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c2).Type)
}

func TestHandshake_SessionOwnedByOtherUser(t *testing.T) {
	h := newHarness(t)

	c1 := h.dial(t)
	h.handshake(t, c1, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c1).Type)
	c1.Close()

	c2 := h.dial(t)
	token, err := h.verifier.Sign("u2", time.Hour)
	require.NoError(t, err)
	sendFrame(t, c2, msg.KindAuth, msg.AuthPayload{Token: token})
	require.Equal(t, msg.KindAuthSuccess, readFrame(t, c2).Type)

	sendFrame(t, c2, msg.KindID, msg.IDPayload{ID: testSession, Browser: "chrome"})
	env := readFrame(t, c2)
	assert.Equal(t, msg.KindError, env.Type, "someone else's session id must not bind")
}

func TestID_BeforeAuth(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	sendFrame(t, c, msg.KindID, msg.IDPayload{ID: testSession, Browser: "firefox"})
	env := readFrame(t, c)
	require.Equal(t, msg.KindError, env.Type)

	var p msg.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "Unauthorized", p.Message)
}

func TestAuth_BadTokenGetsNoSuccess(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	sendFrame(t, c, msg.KindAuth, msg.AuthPayload{Token: "garbage"})
	// A rejected token is silently dropped; the next ID attempt proves
	// the connection never authenticated.
	sendFrame(t, c, msg.KindID, msg.IDPayload{ID: testSession, Browser: "firefox"})
	assert.Equal(t, msg.KindError, readFrame(t, c).Type)
}

func TestEntity_BeforeBind(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	token, err := h.verifier.Sign("u1", time.Hour)
	require.NoError(t, err)
	sendFrame(t, c, msg.KindAuth, msg.AuthPayload{Token: token})
	require.Equal(t, msg.KindAuthSuccess, readFrame(t, c).Type)

	sendFrame(t, c, msg.KindBookmarksAdd, msg.BookmarksAddPayload{
		Bookmarks: []msg.BookmarkNode{{ID: "1", Title: "x"}},
	})
	assert.Equal(t, msg.KindError, readFrame(t, c).Type, "entity ops need a bound session")
}

func TestMalformedFrame_ConnectionSurvives(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// The connection is still usable afterwards.
	h.handshake(t, c, "u1", testSession)
	assert.Equal(t, msg.KindHistoryInit, readFrame(t, c).Type)
}

func TestBookmarksAdd_Persists(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	h.handshake(t, c, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c).Type)

	sendFrame(t, c, msg.KindBookmarksAdd, msg.BookmarksAddPayload{
		Bookmarks: []msg.BookmarkNode{{
			ID: "1", Title: "folder",
			Children: []msg.BookmarkNode{{ID: "2", ParentID: "1", Title: "item", URL: "https://example.com"}},
		}},
	})

	require.Eventually(t, func() bool {
		_, err := h.store.GetBookmark(context.Background(), "u1", testSession, "2")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHistoryAddAndDelete(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	h.handshake(t, c, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c).Type)

	lastVisit := int64(1700000000000)
	sendFrame(t, c, msg.KindHistoryAdd, msg.HistoryAddPayload{
		{ID: "h1", URL: "https://a.example", LastVisitTime: &lastVisit},
	})
	require.Eventually(t, func() bool {
		n, err := h.store.CountHistoryItems(context.Background(), "u1", testSession)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	sendFrame(t, c, msg.KindHistoryDelete, msg.HistoryDeletePayload{AllHistory: true})
	require.Eventually(t, func() bool {
		n, err := h.store.CountHistoryItems(context.Background(), "u1", testSession)
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBacklogFlushedOnConnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Queue a create while the session is offline.
	raw, err := json.Marshal(msg.BookmarksCreatePayload{
		ID:            "tmp-1",
		CreateDetails: msg.BookmarkCreateDetails{Title: "queued", URL: "https://q.example"},
	})
	require.NoError(t, err)
	_, err = h.store.EnqueuePending(ctx, "u1", testSession, msg.KindBookmarksCreate, raw)
	require.NoError(t, err)

	c := h.dial(t)
	h.handshake(t, c, "u1", testSession)

	replayed := drainUntil(t, c, msg.KindHistoryInit)
	require.Len(t, replayed, 1, "the queued create replays before HISTORY_INIT")
	assert.Equal(t, msg.KindBookmarksCreate, replayed[0].Type)

	require.Eventually(t, func() bool {
		n, err := h.store.CountPendingBySession(ctx, testSession)
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSetID_ReassignsStoredBookmark(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	h.handshake(t, c, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c).Type)

	sendFrame(t, c, msg.KindBookmarksAdd, msg.BookmarksAddPayload{
		Bookmarks: []msg.BookmarkNode{{ID: "tmp-f", Title: "folder"}},
	})
	require.Eventually(t, func() bool {
		_, err := h.store.GetBookmark(context.Background(), "u1", testSession, "tmp-f")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	sendFrame(t, c, msg.KindBookmarksSetID, msg.BookmarksSetIDPayload{
		PreviousID: "tmp-f",
		NewID:      "100",
	})
	require.Eventually(t, func() bool {
		_, err := h.store.GetBookmark(context.Background(), "u1", testSession, "100")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSecondConnection_ReplacesFirst(t *testing.T) {
	h := newHarness(t)

	c1 := h.dial(t)
	h.handshake(t, c1, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c1).Type)

	c2 := h.dial(t)
	h.handshake(t, c2, "u1", testSession)
	require.Equal(t, msg.KindHistoryInit, readFrame(t, c2).Type)

	// The replaced connection gets closed out from under its reader.
	require.NoError(t, c1.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c1.ReadMessage()
	assert.Error(t, err)
}
