// ABOUTME: Core types and interfaces for the room state event log
// ABOUTME: Defines the latest-state aggregation and membership query contracts

package store

import (
	"context"
	"errors"
)

// ErrEventExists is returned when ingesting an event whose ID is already stored
var ErrEventExists = errors.New("event already exists")

// StateKeyDefault is the normalized token for an empty or absent state key.
// Matrix state events with state_key "" (the common case for singleton
// state like join rules) appear under this key in query results.
const StateKeyDefault = "default"

// EventJSON is the full JSON representation of a stored event, as a
// decoded object. It carries at least "content" plus event metadata
// (event_id, sender, origin_server_ts, ...).
type EventJSON map[string]any

// RoomState maps event type -> normalized state key -> latest event.
type RoomState map[string]map[string]EventJSON

// Event is an event to be ingested into the log.
type Event struct {
	ID             string
	RoomID         string
	Type           string
	StateKey       *string // nil for non-state events
	Sender         string
	OriginServerTS int64 // milliseconds
	Content        map[string]any
}

// IsState reports whether the event is a state event.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// Store is the full event-log interface.
type Store interface {
	StateSource

	// IngestEvent persists an event into the log.
	IngestEvent(ctx context.Context, ev *Event) error

	// Close releases the underlying database.
	Close() error
}

// StateSource answers the two read queries the preview pipeline needs.
type StateSource interface {
	// LatestState returns, for each requested room, the most recent state
	// event per (event type, state key) among the given event types. Every
	// requested room ID is present in the result; rooms with no matching
	// state map to an empty RoomState. Ties on origin_server_ts are broken
	// by event ID so repeated queries over unchanged data are reproducible.
	LatestState(ctx context.Context, roomIDs []string, eventTypes []string) (map[string]RoomState, error)

	// RoomMembership returns the current membership value per user for a
	// room, from the latest m.room.member event per user.
	RoomMembership(ctx context.Context, roomID string) (map[string]string, error)
}
