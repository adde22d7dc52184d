package store

import (
	"context"
	"errors"
	"testing"

	"github.com/unsearch/syncd/internal/msg"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }
func i64p(i int64) *int64   { return &i }

func TestBookmarks_InsertTreeAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	forest := []msg.BookmarkNode{{
		ID:    "1",
		Title: "toolbar",
		Children: []msg.BookmarkNode{
			{ID: "2", ParentID: "1", Index: intp(0), Title: "Example", URL: "https://example.com", DateAdded: i64p(1700000000000)},
			{ID: "3", ParentID: "1", Index: intp(1), Title: "sub", Children: []msg.BookmarkNode{
				{ID: "4", ParentID: "3", Index: intp(0), Title: "deep"},
			}},
		},
	}}
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", forest); err != nil {
		t.Fatalf("InsertBookmarkTree() failed: %v", err)
	}

	got, err := s.GetBookmark(ctx, "u1", "sess-1", "2")
	if err != nil {
		t.Fatalf("GetBookmark() failed: %v", err)
	}
	if got.Title != "Example" || got.URL != "https://example.com" || got.ParentID != "1" {
		t.Errorf("GetBookmark() = %+v", got)
	}
	if got.DateAdded == nil || *got.DateAdded != 1700000000000 {
		t.Errorf("DateAdded = %v, want 1700000000000", got.DateAdded)
	}

	deep, err := s.GetBookmark(ctx, "u1", "sess-1", "4")
	if err != nil {
		t.Fatalf("GetBookmark(deep) failed: %v", err)
	}
	if deep.ParentID != "3" {
		t.Errorf("deep node ParentID = %q, want 3", deep.ParentID)
	}
}

func TestBookmarks_InsertTreeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	forest := []msg.BookmarkNode{{ID: "1", Title: "a", URL: "https://a.example"}}
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", forest); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	// Redelivered batch; the conflict target skips the duplicate.
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", forest); err != nil {
		t.Fatalf("second insert failed: %v", err)
	}

	var n int
	if err := s.DB().QueryRow(
		`SELECT COUNT(*) FROM bookmarks WHERE user_id = 'u1' AND session_id = 'sess-1'`,
	).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}
}

func TestBookmarks_SameIDDifferentSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Browser-assigned ids collide across sessions by design; ownership
	// scoping keeps them distinct.
	for _, sessionID := range []string{"sess-1", "sess-2"} {
		if err := s.InsertBookmarkTree(ctx, "u1", sessionID, []msg.BookmarkNode{{ID: "7", Title: sessionID}}); err != nil {
			t.Fatalf("insert for %s failed: %v", sessionID, err)
		}
	}

	a, err := s.GetBookmark(ctx, "u1", "sess-1", "7")
	if err != nil {
		t.Fatalf("GetBookmark(sess-1) failed: %v", err)
	}
	b, err := s.GetBookmark(ctx, "u1", "sess-2", "7")
	if err != nil {
		t.Fatalf("GetBookmark(sess-2) failed: %v", err)
	}
	if a.Title != "sess-1" || b.Title != "sess-2" {
		t.Errorf("titles = %q, %q; sessions bleed into each other", a.Title, b.Title)
	}
}

func TestBookmarks_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", []msg.BookmarkNode{{ID: "1", Title: "old", URL: "https://old.example"}}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	n, err := s.UpdateBookmark(ctx, "u1", "sess-1", "1", msg.BookmarkChanges{Title: strp("new")})
	if err != nil {
		t.Fatalf("UpdateBookmark() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("update affected %d rows, want 1", n)
	}

	got, err := s.GetBookmark(ctx, "u1", "sess-1", "1")
	if err != nil {
		t.Fatalf("GetBookmark() failed: %v", err)
	}
	if got.Title != "new" {
		t.Errorf("Title = %q, want new", got.Title)
	}
	if got.URL != "https://old.example" {
		t.Errorf("URL changed to %q, should be untouched", got.URL)
	}

	// Unknown id is not an error, just zero rows.
	n, err = s.UpdateBookmark(ctx, "u1", "sess-1", "404", msg.BookmarkChanges{Title: strp("x")})
	if err != nil {
		t.Fatalf("UpdateBookmark(unknown) failed: %v", err)
	}
	if n != 0 {
		t.Errorf("unknown id affected %d rows, want 0", n)
	}
}

func TestBookmarks_Move(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	forest := []msg.BookmarkNode{
		{ID: "1", Title: "folder a"},
		{ID: "2", Title: "folder b"},
		{ID: "3", ParentID: "1", Index: intp(0), Title: "item"},
	}
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", forest); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	n, err := s.MoveBookmark(ctx, "u1", "sess-1", "3", msg.BookmarkDestination{ParentID: "2", Index: 5})
	if err != nil {
		t.Fatalf("MoveBookmark() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("move affected %d rows, want 1", n)
	}

	got, err := s.GetBookmark(ctx, "u1", "sess-1", "3")
	if err != nil {
		t.Fatalf("GetBookmark() failed: %v", err)
	}
	if got.ParentID != "2" || got.Index == nil || *got.Index != 5 {
		t.Errorf("after move: parent=%q index=%v", got.ParentID, got.Index)
	}
}

func TestBookmarks_DeleteClearsChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	forest := []msg.BookmarkNode{{
		ID: "1", Title: "folder",
		Children: []msg.BookmarkNode{
			{ID: "2", ParentID: "1", Title: "child a"},
			{ID: "3", ParentID: "1", Title: "child b"},
		},
	}}
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", forest); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	n, err := s.DeleteBookmark(ctx, "u1", "sess-1", "1")
	if err != nil {
		t.Fatalf("DeleteBookmark() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("delete affected %d rows, want 1", n)
	}

	// Children survive, orphaned rather than cascaded.
	for _, id := range []string{"2", "3"} {
		got, err := s.GetBookmark(ctx, "u1", "sess-1", id)
		if err != nil {
			t.Fatalf("GetBookmark(%s) failed: %v", id, err)
		}
		if got.ParentID != "" {
			t.Errorf("child %s still has parent %q", id, got.ParentID)
		}
	}
}

func TestBookmarks_DeleteUnknown(t *testing.T) {
	s := newTestStore(t)

	n, err := s.DeleteBookmark(context.Background(), "u1", "sess-1", "404")
	if err != nil {
		t.Fatalf("DeleteBookmark() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("delete affected %d rows, want 0", n)
	}
}

func TestBookmarks_ReassignID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	forest := []msg.BookmarkNode{
		{ID: "tmp-1", Title: "folder"},
		{ID: "10", ParentID: "tmp-1", Index: intp(0), Title: "child a"},
		{ID: "11", ParentID: "tmp-1", Index: intp(1), Title: "child b"},
		{ID: "12", Title: "unrelated root"},
	}
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", forest); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	before, err := s.GetBookmark(ctx, "u1", "sess-1", "tmp-1")
	if err != nil {
		t.Fatalf("GetBookmark(before) failed: %v", err)
	}

	if err := s.ReassignBookmarkID(ctx, "u1", "sess-1", "tmp-1", "42"); err != nil {
		t.Fatalf("ReassignBookmarkID() failed: %v", err)
	}

	// Old id gone, new id present, internal key stable.
	if _, err := s.GetBookmark(ctx, "u1", "sess-1", "tmp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old id still resolves, err = %v", err)
	}
	after, err := s.GetBookmark(ctx, "u1", "sess-1", "42")
	if err != nil {
		t.Fatalf("GetBookmark(after) failed: %v", err)
	}
	if after.PK != before.PK {
		t.Errorf("PK changed across reassignment: %q -> %q", before.PK, after.PK)
	}

	// Children follow the new id.
	children, err := s.ListBookmarkChildren(ctx, "u1", "sess-1", "42")
	if err != nil {
		t.Fatalf("ListBookmarkChildren() failed: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	for _, c := range children {
		if c.ParentID != "42" {
			t.Errorf("child %s has parent %q, want 42", c.ID, c.ParentID)
		}
	}

	// A root that was parentless before the swap stays parentless; the
	// bridge must not capture it.
	root, err := s.GetBookmark(ctx, "u1", "sess-1", "12")
	if err != nil {
		t.Fatalf("GetBookmark(root) failed: %v", err)
	}
	if root.ParentID != "" {
		t.Errorf("unrelated root gained parent %q", root.ParentID)
	}
}

func TestBookmarks_ReassignUnknownID(t *testing.T) {
	s := newTestStore(t)

	err := s.ReassignBookmarkID(context.Background(), "u1", "sess-1", "tmp-404", "42")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReassignBookmarkID() err = %v, want ErrNotFound", err)
	}
}

func TestBookmarks_TitleNormalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Decomposed e + combining acute; stored form must be the composed
	// NFC equivalent so lookups and display agree across browsers.
	decomposed := "cafe\u0301"
	if err := s.InsertBookmarkTree(ctx, "u1", "sess-1", []msg.BookmarkNode{{ID: "1", Title: decomposed}}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetBookmark(ctx, "u1", "sess-1", "1")
	if err != nil {
		t.Fatalf("GetBookmark() failed: %v", err)
	}
	if got.Title != "caf\u00e9" {
		t.Errorf("Title = %q, want NFC-composed form", got.Title)
	}
}
