package msg

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// decodeInto parses a raw payload into dst and runs its shape validation.
func decodeInto(kind Kind, raw json.RawMessage, dst interface{ Validate() error }) error {
	if len(raw) == 0 {
		return fmt.Errorf("%s: missing payload", kind)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

// DecodeAuth parses and validates an AUTH payload.
func DecodeAuth(raw json.RawMessage) (AuthPayload, error) {
	var p AuthPayload
	err := decodeInto(KindAuth, raw, &p)
	return p, err
}

// DecodeID parses and validates an ID payload.
func DecodeID(raw json.RawMessage) (IDPayload, error) {
	var p IDPayload
	err := decodeInto(KindID, raw, &p)
	return p, err
}

// DecodeBookmarksAdd parses and validates a BOOKMARKS_ADD payload.
func DecodeBookmarksAdd(raw json.RawMessage) (BookmarksAddPayload, error) {
	var p BookmarksAddPayload
	err := decodeInto(KindBookmarksAdd, raw, &p)
	return p, err
}

// DecodeBookmarksUpdate parses and validates a BOOKMARKS_UPDATE payload.
func DecodeBookmarksUpdate(raw json.RawMessage) (BookmarksUpdatePayload, error) {
	var p BookmarksUpdatePayload
	err := decodeInto(KindBookmarksUpdate, raw, &p)
	return p, err
}

// DecodeBookmarksMove parses and validates a BOOKMARKS_MOVE payload.
func DecodeBookmarksMove(raw json.RawMessage) (BookmarksMovePayload, error) {
	var p BookmarksMovePayload
	err := decodeInto(KindBookmarksMove, raw, &p)
	return p, err
}

// DecodeBookmarksDelete parses and validates a BOOKMARKS_DELETE payload.
func DecodeBookmarksDelete(raw json.RawMessage) (BookmarksDeletePayload, error) {
	var p BookmarksDeletePayload
	err := decodeInto(KindBookmarksDelete, raw, &p)
	return p, err
}

// DecodeBookmarksSetID parses and validates a BOOKMARKS_SETID payload.
func DecodeBookmarksSetID(raw json.RawMessage) (BookmarksSetIDPayload, error) {
	var p BookmarksSetIDPayload
	err := decodeInto(KindBookmarksSetID, raw, &p)
	return p, err
}

// DecodeBookmarksCreate parses a BOOKMARKS_CREATE payload. Used when
// re-reading queued deliveries from the backlog, so it shares the inbound
// validation path.
func DecodeBookmarksCreate(raw json.RawMessage) (BookmarksCreatePayload, error) {
	var p BookmarksCreatePayload
	err := decodeInto(KindBookmarksCreate, raw, &p)
	return p, err
}

// DecodeHistoryAdd parses and validates a HISTORY_ADD payload.
func DecodeHistoryAdd(raw json.RawMessage) (HistoryAddPayload, error) {
	var p HistoryAddPayload
	err := decodeInto(KindHistoryAdd, raw, &p)
	return p, err
}

// DecodeHistoryDelete parses and validates a HISTORY_DELETE payload.
func DecodeHistoryDelete(raw json.RawMessage) (HistoryDeletePayload, error) {
	var p HistoryDeletePayload
	err := decodeInto(KindHistoryDelete, raw, &p)
	return p, err
}

// DecodeTabsAdd parses and validates a TABS_ADD payload.
func DecodeTabsAdd(raw json.RawMessage) (TabsAddPayload, error) {
	var p TabsAddPayload
	err := decodeInto(KindTabsAdd, raw, &p)
	return p, err
}

// Validate checks the AUTH payload shape.
func (p *AuthPayload) Validate() error {
	if p.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// Validate checks the ID payload shape. The session id must be a UUID: it
// is generated client-side and becomes a database key, so malformed ids are
// rejected before they ever reach the store.
func (p *IDPayload) Validate() error {
	if err := uuid.Validate(p.ID); err != nil {
		return fmt.Errorf("session id %q is not a valid uuid", p.ID)
	}
	if p.Browser == "" {
		return fmt.Errorf("browser is required")
	}
	return nil
}

// Validate checks every node of the bookmark forest. Traversal is
// iterative with an explicit stack; browser trees can nest arbitrarily
// deep and must not grow the call stack.
func (p *BookmarksAddPayload) Validate() error {
	if len(p.Bookmarks) == 0 {
		return fmt.Errorf("bookmarks is empty")
	}

	stack := make([]*BookmarkNode, 0, len(p.Bookmarks))
	for i := range p.Bookmarks {
		stack = append(stack, &p.Bookmarks[i])
	}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node.ID == "" {
			return fmt.Errorf("bookmark node missing id")
		}
		if node.Index != nil && *node.Index < 0 {
			return fmt.Errorf("bookmark %s: negative index", node.ID)
		}
		for i := range node.Children {
			stack = append(stack, &node.Children[i])
		}
	}
	return nil
}

// Validate checks the BOOKMARKS_UPDATE payload shape.
func (p *BookmarksUpdatePayload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Changes.Title == nil && p.Changes.URL == nil {
		return fmt.Errorf("changes is empty")
	}
	return nil
}

// Validate checks the BOOKMARKS_MOVE payload shape.
func (p *BookmarksMovePayload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Destination.ParentID == "" {
		return fmt.Errorf("destination parentId is required")
	}
	if p.Destination.Index < 0 {
		return fmt.Errorf("destination index is negative")
	}
	return nil
}

// Validate checks the BOOKMARKS_DELETE payload shape.
func (p *BookmarksDeletePayload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Validate checks the BOOKMARKS_SETID payload shape.
func (p *BookmarksSetIDPayload) Validate() error {
	if p.PreviousID == "" {
		return fmt.Errorf("previousId is required")
	}
	if p.NewID == "" {
		return fmt.Errorf("newId is required")
	}
	if p.PreviousID == p.NewID {
		return fmt.Errorf("previousId and newId are identical")
	}
	return nil
}

// Validate checks the BOOKMARKS_CREATE payload shape.
func (p *BookmarksCreatePayload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.CreateDetails.Index != nil && *p.CreateDetails.Index < 0 {
		return fmt.Errorf("createDetails index is negative")
	}
	return nil
}

// Validate checks every visit record in the batch.
func (p *HistoryAddPayload) Validate() error {
	for i, v := range *p {
		if v.ID == "" {
			return fmt.Errorf("visit %d missing id", i)
		}
		if v.LastVisitTime != nil && *v.LastVisitTime <= 0 {
			return fmt.Errorf("visit %s: invalid lastVisitTime", v.ID)
		}
	}
	return nil
}

// Validate checks the HISTORY_DELETE payload shape: either the all-history
// flag or an explicit url list.
func (p *HistoryDeletePayload) Validate() error {
	if !p.AllHistory && len(p.URLs) == 0 {
		return fmt.Errorf("neither allHistory nor urls given")
	}
	return nil
}

// Validate checks every tab in the snapshot.
func (p *TabsAddPayload) Validate() error {
	for i, tab := range *p {
		if tab.Index < 0 {
			return fmt.Errorf("tab %d: negative index", i)
		}
	}
	return nil
}
