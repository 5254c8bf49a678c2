// ABOUTME: Reactive cache invalidation hook driven by new-event notifications
// ABOUTME: Evicts a whole room when any tracked state event lands in it

package preview

import (
	"maunium.net/go/mautrix/event"
)

// OnNewEvent is the fire-and-forget hook for the event notification
// stream. Non-state events and untracked types are ignored; anything
// else evicts the event's room from the cache. Eviction is whole-room:
// recomputing exactly which keys changed is not worth it when the next
// miss re-aggregates the room in one query anyway.
func (s *Service) OnNewEvent(evt *event.Event, _ map[string]*event.Event) {
	if evt.StateKey == nil {
		return
	}
	if !s.trackedSet[evt.Type.Type] {
		return
	}

	s.logger.Debug("invalidating room after state change",
		"room_id", evt.RoomID, "event_type", evt.Type.Type)
	s.cache.Invalidate(evt.RoomID.String())
}
