// Package msg defines the wire protocol between the sync server and
// browser-extension sessions.
//
// Every frame is a single JSON object with a "type" discriminator and a
// kind-specific "payload":
//
//	{"type": "BOOKMARKS_MOVE", "payload": {"id": "42", "moveInfo": {...}}}
//
// The set of kinds is closed. Each inbound kind has a typed payload struct
// with a Validate method mirroring the shape checks the extension relies on.
// Raw JSON survives only at the decode boundary; everything past
// DecodePayload works with typed values.
//
// Kinds split into three groups:
//   - handshake/liveness: AUTH, ID, PING
//   - session → server entity mutations: BOOKMARKS_*, HISTORY_*, TABS_ADD
//   - server → session deliveries and signals: BOOKMARKS_CREATE,
//     BOOKMARKS_REMOVE, BOOKMARKS_UPDATE, BOOKMARKS_MOVE, HISTORY_REMOVE,
//     SESSION_REMOVE, *_SUCCESS, ERROR
//
// Server → session deliveries are the messages the pending backlog persists
// when a session is offline, so their payload shapes double as the durable
// queue format.
package msg
