// ABOUTME: Room preview payload type and its JSON envelope shape
// ABOUTME: State maps by event type and state key, plus the membership overlay

package preview

import (
	"encoding/json"

	"github.com/pangea-chat/preview-gateway/internal/store"
)

// RoomPayload is the preview data for one room: the latest state event
// per (event type, state key), plus an optional membership summary for
// users referenced by activity roles.
//
// It serializes with the event types as top-level keys:
//
//	{
//	  "pangea.activity_plan": {"default": {...event...}},
//	  "pangea.activity_roles": {"default": {...event...}},
//	  "membership_summary": {"@alice:example.com": "join"}
//	}
//
// A room with no tracked state serializes as {}.
type RoomPayload struct {
	State             store.RoomState
	MembershipSummary map[string]string
}

// MarshalJSON flattens the state map and membership summary into a
// single JSON object.
func (p RoomPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.State)+1)
	for eventType, byStateKey := range p.State {
		out[eventType] = byStateKey
	}
	if p.MembershipSummary != nil {
		out[MembershipSummaryKey] = p.MembershipSummary
	}
	return json.Marshal(out)
}
