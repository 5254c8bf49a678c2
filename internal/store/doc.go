// Package store provides the room state event log backing the preview
// pipeline.
//
// The log mirrors the homeserver's event tables: an events table with
// metadata, a state_events marker table, and an event_json table holding
// the full serialized events. Two read queries are exposed: the
// latest-state-per-key aggregation that feeds previews, and the current
// membership of a single room used for membership-summary enrichment.
//
// The query contract is storage-engine-independent (see StateSource);
// SQLiteStore is the shipped implementation. An alternative backend
// would be a second StateSource implementation selected by
// configuration.
package store
