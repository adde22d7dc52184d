package msg

import (
	"encoding/json"
	"fmt"
)

// Kind is the frame type discriminator.
type Kind string

// Inbound kinds (session → server).
const (
	KindAuth            Kind = "AUTH"
	KindID              Kind = "ID"
	KindPing            Kind = "PING"
	KindBookmarksAdd    Kind = "BOOKMARKS_ADD"
	KindBookmarksUpdate Kind = "BOOKMARKS_UPDATE"
	KindBookmarksMove   Kind = "BOOKMARKS_MOVE"
	KindBookmarksDelete Kind = "BOOKMARKS_DELETE"
	KindBookmarksSetID  Kind = "BOOKMARKS_SETID"
	KindHistoryAdd      Kind = "HISTORY_ADD"
	KindHistoryDelete   Kind = "HISTORY_DELETE"
	KindTabsAdd         Kind = "TABS_ADD"
)

// Outbound kinds (server → session).
const (
	KindAuthSuccess     Kind = "AUTH_SUCCESS"
	KindIDSuccess       Kind = "ID_SUCCESS"
	KindHistoryInit     Kind = "HISTORY_INIT"
	KindError           Kind = "ERROR"
	KindSessionRemove   Kind = "SESSION_REMOVE"
	KindBookmarksCreate Kind = "BOOKMARKS_CREATE"
	KindBookmarksRemove Kind = "BOOKMARKS_REMOVE"
	KindHistoryRemove   Kind = "HISTORY_REMOVE"
)

// Envelope is the outer frame format: one JSON object per frame.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses a raw frame. It only checks the outer shape; the
// payload is validated separately per kind.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Encode builds the wire bytes for a frame.
func Encode(kind Kind, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = b
	}
	b, err := json.Marshal(Envelope{Type: kind, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return b, nil
}

// AuthPayload carries the bearer token for the connection handshake.
type AuthPayload struct {
	Token string `json:"token"`
}

// IDPayload binds the connection to a session identity and records the
// session's environment descriptors.
type IDPayload struct {
	ID      string `json:"id"`
	Browser string `json:"browser"`
	OS      string `json:"os,omitempty"`
	Arch    string `json:"arch,omitempty"`
}

// BookmarkNode is one node of an inbound bookmark tree. Children nest
// arbitrarily deep; timestamps are epoch milliseconds as the browser
// reports them.
type BookmarkNode struct {
	ID                string         `json:"id"`
	ParentID          string         `json:"parentId,omitempty"`
	Index             *int           `json:"index,omitempty"`
	Title             string         `json:"title"`
	URL               string         `json:"url,omitempty"`
	DateAdded         *int64         `json:"dateAdded,omitempty"`
	DateGroupModified *int64         `json:"dateGroupModified,omitempty"`
	DateLastUsed      *int64         `json:"dateLastUsed,omitempty"`
	Children          []BookmarkNode `json:"children,omitempty"`
}

// BookmarksAddPayload is a forest of bookmark trees (the initial bulk
// upload sends the browser's whole tree; incremental adds send one node).
type BookmarksAddPayload struct {
	Bookmarks []BookmarkNode `json:"bookmarks"`
}

// BookmarkChanges is the mutable subset of a bookmark's fields.
type BookmarkChanges struct {
	Title *string `json:"title,omitempty"`
	URL   *string `json:"url,omitempty"`
}

// BookmarksUpdatePayload changes a bookmark's title and/or url.
// The same shape is used inbound (updateInfo from the browser event) and
// outbound (changes pushed to the session); both field names decode.
type BookmarksUpdatePayload struct {
	ID      string          `json:"id"`
	Changes BookmarkChanges `json:"changes"`
}

// BookmarkDestination is a position in the tree: parent plus index.
type BookmarkDestination struct {
	ParentID string `json:"parentId"`
	Index    int    `json:"index"`
}

// BookmarksMovePayload re-parents and/or re-orders a bookmark.
type BookmarksMovePayload struct {
	ID          string              `json:"id"`
	Destination BookmarkDestination `json:"destination"`
}

// BookmarksDeletePayload removes a bookmark or an empty folder.
type BookmarksDeletePayload struct {
	ID string `json:"id"`
}

// BookmarkCreateDetails is everything a session needs to materialize a
// bookmark created elsewhere (another session or the dashboard).
type BookmarkCreateDetails struct {
	ParentID string `json:"parentId,omitempty"`
	Index    *int   `json:"index,omitempty"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
}

// BookmarksCreatePayload asks a session to create a bookmark. ID is the
// temporary identifier the server proposed for the entity; once the session
// materializes the bookmark it answers with BOOKMARKS_SETID mapping the
// temporary id to the browser-assigned final id.
type BookmarksCreatePayload struct {
	ID            string                `json:"id"`
	CreateDetails BookmarkCreateDetails `json:"createDetails"`
}

// BookmarksSetIDPayload reconciles a temporary bookmark id with the final
// id the session's browser assigned.
type BookmarksSetIDPayload struct {
	PreviousID string `json:"previousId"`
	NewID      string `json:"newId"`
}

// HistoryVisit is one visit record from the browser history.
type HistoryVisit struct {
	ID            string `json:"id"`
	URL           string `json:"url,omitempty"`
	Title         string `json:"title,omitempty"`
	LastVisitTime *int64 `json:"lastVisitTime,omitempty"`
	VisitCount    *int   `json:"visitCount,omitempty"`
	TypedCount    *int   `json:"typedCount,omitempty"`
}

// HistoryAddPayload is a batch of visit records.
type HistoryAddPayload []HistoryVisit

// HistoryDeletePayload removes history by url list, or everything when
// AllHistory is set.
type HistoryDeletePayload struct {
	AllHistory bool     `json:"allHistory"`
	URLs       []string `json:"urls,omitempty"`
}

// HistoryRemovePayload tells a session to drop one url from its local
// history.
type HistoryRemovePayload struct {
	URL string `json:"url"`
}

// Tab is one open tab in a whole-state snapshot.
type Tab struct {
	TabID        *int   `json:"id,omitempty"`
	WindowID     int    `json:"windowId"`
	Index        int    `json:"index"`
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	FavIconURL   string `json:"favIconUrl,omitempty"`
	Pinned       bool   `json:"pinned"`
	Incognito    bool   `json:"incognito"`
	OpenerTabID  *int   `json:"openerTabId,omitempty"`
	LastAccessed *int64 `json:"lastAccessed,omitempty"`
}

// TabsAddPayload replaces the session's tab snapshot.
type TabsAddPayload []Tab

// ErrorPayload is the generic failure signal. Message is optional and
// intentionally vague; details stay in the server log.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
}
