// ABOUTME: Read-through preview service combining cache, aggregation, and enrichment
// ABOUTME: Deduplicates concurrent cache misses per room via singleflight

package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pangea-chat/preview-gateway/internal/store"
)

// Service answers room-preview requests. Cache hits are returned with a
// freshly recomputed membership summary; misses are fetched from the
// state source, redacted, cached, and then summarized the same way.
type Service struct {
	trackedTypes []string
	trackedSet   map[string]bool
	cache        *Cache
	source       store.StateSource
	group        singleflight.Group
	logger       *slog.Logger
}

// NewService creates a preview service over the given state source.
// trackedEventTypes is the configured set of state-event types surfaced
// in previews; when empty, GetPreview short-circuits to empty results.
func NewService(trackedEventTypes []string, source store.StateSource, logger *slog.Logger) *Service {
	trackedSet := make(map[string]bool, len(trackedEventTypes))
	for _, t := range trackedEventTypes {
		trackedSet[t] = true
	}
	return &Service{
		trackedTypes: trackedEventTypes,
		trackedSet:   trackedSet,
		cache:        NewCache(),
		source:       source,
		logger:       logger.With("component", "preview"),
	}
}

// Cache exposes the room cache, primarily for the reactive invalidation
// path and tests.
func (s *Service) Cache() *Cache {
	return s.cache
}

// GetPreview returns the preview payload for each requested room. Rooms
// unknown to the event log map to an empty payload. Empty input, or an
// empty tracked-type configuration, returns an empty map without
// touching the store. An aggregation failure fails the whole batch; a
// membership lookup failure degrades that room's summary to empty.
func (s *Service) GetPreview(ctx context.Context, roomIDs []string) (map[string]RoomPayload, error) {
	result := make(map[string]RoomPayload)
	if len(roomIDs) == 0 || len(s.trackedTypes) == 0 {
		return result, nil
	}

	s.cache.Sweep()

	seen := make(map[string]bool, len(roomIDs))
	var misses []string
	for _, roomID := range roomIDs {
		if seen[roomID] {
			continue
		}
		seen[roomID] = true

		if payload, ok := s.cache.Get(roomID); ok {
			result[roomID] = payload
		} else {
			misses = append(misses, roomID)
		}
	}

	if len(misses) > 0 {
		fetched, err := s.fetchRooms(ctx, misses)
		if err != nil {
			return nil, err
		}
		for roomID, payload := range fetched {
			result[roomID] = payload
		}
	}

	// Membership-derived fields are recomputed on every access, cache
	// hit or miss, so cached raw state can outlive membership changes
	// without serving a wrong summary.
	for roomID, payload := range result {
		result[roomID] = s.withMembershipSummary(ctx, roomID, payload)
	}

	return result, nil
}

// fetchRooms aggregates state for uncached rooms. Each room's fetch is
// deduplicated with concurrent requests via singleflight, and runs on a
// context detached from the caller's cancellation: if the caller times
// out, the fetch still completes and populates the cache for the next
// caller.
func (s *Service) fetchRooms(ctx context.Context, roomIDs []string) (map[string]RoomPayload, error) {
	type fetchResult struct {
		roomID  string
		payload RoomPayload
		err     error
	}

	results := make(chan fetchResult, len(roomIDs))
	var wg sync.WaitGroup
	for _, roomID := range roomIDs {
		wg.Add(1)
		go func(roomID string) {
			defer wg.Done()
			payload, err := s.fetchRoom(ctx, roomID)
			results <- fetchResult{roomID: roomID, payload: payload, err: err}
		}(roomID)
	}
	wg.Wait()
	close(results)

	fetched := make(map[string]RoomPayload, len(roomIDs))
	for r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("fetching state for %s: %w", r.roomID, r.err)
		}
		fetched[r.roomID] = r.payload
	}
	return fetched, nil
}

// fetchRoom runs the aggregation query for one room under singleflight,
// applies the one-time redaction filter, and stores the result.
func (s *Service) fetchRoom(ctx context.Context, roomID string) (RoomPayload, error) {
	v, err, shared := s.group.Do(roomID, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		states, err := s.source.LatestState(fetchCtx, []string{roomID}, s.trackedTypes)
		if err != nil {
			return RoomPayload{}, err
		}

		state := states[roomID]
		if state == nil {
			state = store.RoomState{}
		}
		redactJoinRules(state)

		payload := RoomPayload{State: state}
		s.cache.Put(roomID, payload)
		return payload, nil
	})
	if err != nil {
		return RoomPayload{}, err
	}
	if shared {
		s.logger.Debug("cache miss coalesced", "room_id", roomID)
	}
	return v.(RoomPayload), nil
}

// withMembershipSummary returns a copy of the payload carrying a fresh
// membership summary for the users referenced by its activity roles.
// Rooms without the role-bearing event type get no summary at all. A
// membership lookup failure logs and yields an empty summary rather
// than failing the preview.
func (s *Service) withMembershipSummary(ctx context.Context, roomID string, payload RoomPayload) RoomPayload {
	if len(payload.State[EventTypeActivityRoles]) == 0 {
		payload.MembershipSummary = nil
		return payload
	}

	userIDs := roleUserIDs(payload.State)
	membership, err := s.source.RoomMembership(ctx, roomID)
	if err != nil {
		s.logger.Warn("membership lookup failed, serving empty summary",
			"room_id", roomID, "error", err)
		payload.MembershipSummary = map[string]string{}
		return payload
	}

	payload.MembershipSummary = summarizeMembership(userIDs, membership)
	return payload
}
