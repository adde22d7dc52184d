package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unsearch/syncd/internal/msg"
	"github.com/unsearch/syncd/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *Registry) {
	t.Helper()
	st := newTestStore(t)
	reg := NewRegistry()
	d := NewDispatcher(st, reg)
	return NewReconciler(st, d), st, reg
}

func TestReassign_UpdatesTreeAndBacklog(t *testing.T) {
	rec, st, reg := newTestReconciler(t)
	ctx := context.Background()

	// Stored folder under its temporary id, plus a backlog create that
	// names that id as parent (held back by the dependency filter until
	// now).
	require.NoError(t, st.InsertBookmarkTree(ctx, "u1", "sess-1", []msg.BookmarkNode{
		{ID: "tmp-f", Title: "folder"},
	}))
	childRaw, _ := json.Marshal(msg.BookmarksCreatePayload{
		ID:            "tmp-c",
		CreateDetails: msg.BookmarkCreateDetails{ParentID: "tmp-f", Title: "child"},
	})
	rowID, err := st.EnqueuePending(ctx, "u1", "sess-1", msg.KindBookmarksCreate, childRaw)
	require.NoError(t, err)

	conn := &fakeConn{}
	reg.Register("sess-1", conn)

	require.NoError(t, rec.Reassign(ctx, "u1", "sess-1", "tmp-f", "100"))

	// Stored entity carries the final id.
	folder, err := st.GetBookmark(ctx, "u1", "sess-1", "100")
	require.NoError(t, err)
	assert.Equal(t, "", folder.ParentID)

	// The unblocked child was rewritten and pushed out immediately.
	assert.Equal(t, []msg.Kind{msg.KindBookmarksCreate}, conn.sentKinds())
	n, err := st.CountPendingBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "redelivered row marked sent")

	var payload string
	require.NoError(t, st.DB().QueryRow(
		`SELECT payload FROM pending_messages WHERE id = ?`, rowID,
	).Scan(&payload))
	var create msg.BookmarksCreatePayload
	require.NoError(t, json.Unmarshal([]byte(payload), &create))
	assert.Equal(t, "100", create.CreateDetails.ParentID, "persisted payload points at the final id")
}

func TestReassign_OfflineRewriteStaysPending(t *testing.T) {
	rec, st, _ := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, st.InsertBookmarkTree(ctx, "u1", "sess-1", []msg.BookmarkNode{
		{ID: "tmp-f", Title: "folder"},
	}))
	childRaw, _ := json.Marshal(msg.BookmarksCreatePayload{
		ID:            "tmp-c",
		CreateDetails: msg.BookmarkCreateDetails{ParentID: "tmp-f", Title: "child"},
	})
	_, err := st.EnqueuePending(ctx, "u1", "sess-1", msg.KindBookmarksCreate, childRaw)
	require.NoError(t, err)

	require.NoError(t, rec.Reassign(ctx, "u1", "sess-1", "tmp-f", "100"))

	pending, err := st.ListPendingBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, pending, 1, "no connection, rewritten row waits for the next flush")

	var create msg.BookmarksCreatePayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &create))
	assert.Equal(t, "100", create.CreateDetails.ParentID)
}

func TestReassign_UnknownID(t *testing.T) {
	rec, _, _ := newTestReconciler(t)

	err := rec.Reassign(context.Background(), "u1", "sess-1", "tmp-404", "100")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReassign_MoveDestinationRewritten(t *testing.T) {
	rec, st, _ := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, st.InsertBookmarkTree(ctx, "u1", "sess-1", []msg.BookmarkNode{
		{ID: "tmp-f", Title: "folder"},
	}))
	moveRaw, _ := json.Marshal(msg.BookmarksMovePayload{
		ID:          "9",
		Destination: msg.BookmarkDestination{ParentID: "tmp-f", Index: 2},
	})
	_, err := st.EnqueuePending(ctx, "u1", "sess-1", msg.KindBookmarksMove, moveRaw)
	require.NoError(t, err)

	require.NoError(t, rec.Reassign(ctx, "u1", "sess-1", "tmp-f", "100"))

	pending, err := st.ListPendingBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var move msg.BookmarksMovePayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &move))
	assert.Equal(t, "100", move.Destination.ParentID)
	assert.Equal(t, 2, move.Destination.Index, "index survives the rewrite")
}

func TestReassign_SerializedPerSession(t *testing.T) {
	rec, st, _ := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, st.InsertBookmarkTree(ctx, "u1", "sess-1", []msg.BookmarkNode{
		{ID: "tmp-a", Title: "a"},
		{ID: "tmp-b", Title: "b"},
	}))

	// Concurrent reassignments on the same session must both land; the
	// per-session lock keeps their rewrite passes from interleaving.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = rec.Reassign(ctx, "u1", "sess-1", "tmp-a", "1")
	}()
	go func() {
		defer wg.Done()
		errs[1] = rec.Reassign(ctx, "u1", "sess-1", "tmp-b", "2")
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	_, err := st.GetBookmark(ctx, "u1", "sess-1", "1")
	assert.NoError(t, err)
	_, err = st.GetBookmark(ctx, "u1", "sess-1", "2")
	assert.NoError(t, err)
}
