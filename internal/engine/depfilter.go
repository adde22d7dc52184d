package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/unsearch/syncd/internal/msg"
	"github.com/unsearch/syncd/internal/store"
)

// FilterDeliverable returns the subset of a session's backlog that is safe
// to replay now. A message is held back when it depends on an entity the
// target session has not created yet:
//
//   - a create whose declared parent id matches the id introduced by
//     another still-pending create
//   - a move whose destination parent id matches a still-pending create
//
// No other ordering is enforced; siblings, deletes and unrelated entities
// replay in any order. Held-back messages stay pending and become eligible
// on a later flush, after the parent's create is delivered and its
// id-assignment rewrites the child's payload.
func FilterDeliverable(pending []store.PendingMessage) []store.PendingMessage {
	// ids introduced by still-pending creates, keyed to spot dependencies
	pendingCreates := make(map[string]bool)
	for _, m := range pending {
		if m.Kind != msg.KindBookmarksCreate {
			continue
		}
		var create msg.BookmarksCreatePayload
		if err := json.Unmarshal(m.Payload, &create); err != nil {
			slog.Warn("undecodable pending create, skipping for dependency tracking",
				"pending_id", m.ID,
				"error", err,
			)
			continue
		}
		pendingCreates[create.ID] = true
	}

	deliverable := make([]store.PendingMessage, 0, len(pending))
	for _, m := range pending {
		switch m.Kind {
		case msg.KindBookmarksCreate:
			var create msg.BookmarksCreatePayload
			if err := json.Unmarshal(m.Payload, &create); err != nil {
				// Undecodable rows pass through; the transport side
				// logs and drops them rather than wedging the flush.
				break
			}
			parent := create.CreateDetails.ParentID
			if parent != "" && parent != create.ID && pendingCreates[parent] {
				continue
			}

		case msg.KindBookmarksMove:
			var move msg.BookmarksMovePayload
			if err := json.Unmarshal(m.Payload, &move); err != nil {
				break
			}
			if pendingCreates[move.Destination.ParentID] {
				continue
			}
		}
		deliverable = append(deliverable, m)
	}
	return deliverable
}
