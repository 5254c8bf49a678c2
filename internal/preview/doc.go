// Package preview implements the room-preview aggregation, caching, and
// enrichment pipeline.
//
// A request flows: rate limiting happens upstream, then the per-room TTL
// cache is consulted; misses fall through to the latest-state aggregation
// query and pass through the enrichment filters (join-rule redaction,
// membership-summary correlation) before being cached and returned. The
// membership summary alone is recomputed on every access, cache hit or
// miss, because membership changes never trigger reactive invalidation.
//
// Concurrent misses for the same room share one in-flight fetch instead
// of duplicating the aggregation query. Reactive invalidation (OnNewEvent)
// may race preview serving; a stale read in that window self-corrects on
// the next call.
package preview
