// ABOUTME: Tests for the preview service read-through and invalidation behavior
// ABOUTME: Covers query counting, TTL re-fetch, singleflight, and degradation

package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/pangea-chat/preview-gateway/internal/store"
)

// fakeSource is an in-memory StateSource that counts queries.
type fakeSource struct {
	mu              sync.Mutex
	state           map[string]store.RoomState
	membership      map[string]map[string]string
	stateErr        error
	membershipErr   error
	stateCalls      int
	membershipCalls int

	// when set, LatestState blocks until the channel is closed
	gate chan struct{}
	// when set, receives a signal as each LatestState call begins
	entered chan string
}

func (f *fakeSource) LatestState(ctx context.Context, roomIDs []string, eventTypes []string) (map[string]store.RoomState, error) {
	f.mu.Lock()
	f.stateCalls++
	gate := f.gate
	entered := f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- roomIDs[0]
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	result := make(map[string]store.RoomState, len(roomIDs))
	for _, roomID := range roomIDs {
		result[roomID] = store.RoomState{}
		if state, ok := f.state[roomID]; ok {
			result[roomID] = state
		}
	}
	return result, nil
}

func (f *fakeSource) RoomMembership(ctx context.Context, roomID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membershipCalls++
	if f.membershipErr != nil {
		return nil, f.membershipErr
	}
	return f.membership[roomID], nil
}

func (f *fakeSource) counts() (state, membership int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls, f.membershipCalls
}

func rolesState(userIDs ...string) store.RoomState {
	roles := make([]any, len(userIDs))
	for i, id := range userIDs {
		roles[i] = map[string]any{"role": "participant", "user_id": id}
	}
	return store.RoomState{
		EventTypeActivityRoles: {
			store.StateKeyDefault: store.EventJSON{
				"content": map[string]any{"roles": roles},
			},
		},
	}
}

var testTrackedTypes = []string{"pangea.activity_plan", "pangea.activity_roles"}

func newTestService(source store.StateSource) *Service {
	return NewService(testTrackedTypes, source, slog.Default())
}

func TestGetPreview_EmptyInput(t *testing.T) {
	source := &fakeSource{}
	svc := newTestService(source)

	result, err := svc.GetPreview(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)

	stateCalls, membershipCalls := source.counts()
	assert.Zero(t, stateCalls)
	assert.Zero(t, membershipCalls)
}

func TestGetPreview_NoTrackedTypes(t *testing.T) {
	source := &fakeSource{}
	svc := NewService(nil, source, slog.Default())

	result, err := svc.GetPreview(context.Background(), []string{"!room:example.com"})
	require.NoError(t, err)
	assert.Empty(t, result)

	stateCalls, _ := source.counts()
	assert.Zero(t, stateCalls)
}

func TestGetPreview_UnknownRoomYieldsEmptyPayload(t *testing.T) {
	source := &fakeSource{}
	svc := newTestService(source)

	result, err := svc.GetPreview(context.Background(), []string{"!nonexistent:example.com"})
	require.NoError(t, err)

	payload, ok := result["!nonexistent:example.com"]
	require.True(t, ok)
	assert.Empty(t, payload.State)

	raw, err := payload.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestGetPreview_MissThenHit(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		state: map[string]store.RoomState{
			roomID: {
				"pangea.activity_plan": {
					store.StateKeyDefault: store.EventJSON{"content": map[string]any{"plan_id": "p1"}},
				},
			},
		},
	}
	svc := newTestService(source)
	ctx := context.Background()

	first, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)
	stateCalls, _ := source.counts()
	assert.Equal(t, 1, stateCalls, "first call aggregates once")

	second, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)
	stateCalls, _ = source.counts()
	assert.Equal(t, 1, stateCalls, "second call within TTL hits the cache")
	assert.Equal(t, first[roomID].State, second[roomID].State)
}

func TestGetPreview_RefetchAfterTTL(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{}
	svc := newTestService(source)
	ctx := context.Background()

	_, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	// Age the cached entry past the TTL.
	svc.cache.now = func() time.Time { return time.Now().Add(cacheTTL) }

	_, err = svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	stateCalls, _ := source.counts()
	assert.Equal(t, 2, stateCalls)
}

func TestGetPreview_DuplicateRoomIDs(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{}
	svc := newTestService(source)

	result, err := svc.GetPreview(context.Background(), []string{roomID, roomID, roomID})
	require.NoError(t, err)

	require.Len(t, result, 1)
	stateCalls, _ := source.counts()
	assert.Equal(t, 1, stateCalls)
}

func TestGetPreview_AggregationFailureIsHard(t *testing.T) {
	source := &fakeSource{stateErr: errors.New("db gone")}
	svc := newTestService(source)

	_, err := svc.GetPreview(context.Background(), []string{"!room:example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
}

func TestGetPreview_RedactsJoinRulesBeforeCaching(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		state: map[string]store.RoomState{
			roomID: {
				EventTypeJoinRules: {
					store.StateKeyDefault: store.EventJSON{
						"content": map[string]any{
							"join_rule": "knock",
							"allow":     []any{"!secret:example.com"},
						},
					},
				},
			},
		},
	}
	// Track join rules for this test so the aggregator surfaces them.
	svc := NewService([]string{EventTypeJoinRules}, source, slog.Default())

	result, err := svc.GetPreview(context.Background(), []string{roomID})
	require.NoError(t, err)

	content := result[roomID].State[EventTypeJoinRules][store.StateKeyDefault]["content"]
	assert.Equal(t, map[string]any{"join_rule": "knock"}, content)

	// The cached copy is redacted too.
	cached, ok := svc.cache.Get(roomID)
	require.True(t, ok)
	content = cached.State[EventTypeJoinRules][store.StateKeyDefault]["content"]
	assert.Equal(t, map[string]any{"join_rule": "knock"}, content)
}

func TestGetPreview_MembershipSummary(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		state: map[string]store.RoomState{
			roomID: rolesState("@alice:example.com", "@bob:example.com"),
		},
		membership: map[string]map[string]string{
			roomID: {
				"@alice:example.com":  "join",
				"@bob:example.com":    "leave",
				"@lurker:example.com": "join",
			},
		},
	}
	svc := newTestService(source)

	result, err := svc.GetPreview(context.Background(), []string{roomID})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"@alice:example.com": "join",
		"@bob:example.com":   "leave",
	}, result[roomID].MembershipSummary)
}

func TestGetPreview_MembershipRecomputedOnCacheHit(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		state: map[string]store.RoomState{
			roomID: rolesState("@alice:example.com"),
		},
		membership: map[string]map[string]string{
			roomID: {"@alice:example.com": "join"},
		},
	}
	svc := newTestService(source)
	ctx := context.Background()

	first, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)
	assert.Equal(t, "join", first[roomID].MembershipSummary["@alice:example.com"])

	// Alice leaves between requests; the raw state stays cached but the
	// summary must reflect the new membership.
	source.mu.Lock()
	source.membership[roomID]["@alice:example.com"] = "leave"
	source.mu.Unlock()

	second, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)
	assert.Equal(t, "leave", second[roomID].MembershipSummary["@alice:example.com"])

	stateCalls, membershipCalls := source.counts()
	assert.Equal(t, 1, stateCalls, "raw state served from cache")
	assert.Equal(t, 2, membershipCalls, "membership looked up on every access")
}

func TestGetPreview_NoSummaryWithoutRolesEvent(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		state: map[string]store.RoomState{
			roomID: {
				"pangea.activity_plan": {
					store.StateKeyDefault: store.EventJSON{"content": map[string]any{"plan_id": "p"}},
				},
			},
		},
	}
	svc := newTestService(source)

	result, err := svc.GetPreview(context.Background(), []string{roomID})
	require.NoError(t, err)

	assert.Nil(t, result[roomID].MembershipSummary)
	_, membershipCalls := source.counts()
	assert.Zero(t, membershipCalls, "no membership query for rooms without roles")
}

func TestGetPreview_MembershipFailureDegrades(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		state: map[string]store.RoomState{
			roomID: rolesState("@alice:example.com"),
		},
		membershipErr: errors.New("host unavailable"),
	}
	svc := newTestService(source)

	result, err := svc.GetPreview(context.Background(), []string{roomID})
	require.NoError(t, err, "membership failure must not fail the batch")

	require.NotNil(t, result[roomID].MembershipSummary)
	assert.Empty(t, result[roomID].MembershipSummary)
}

func TestGetPreview_ConcurrentMissesShareOneFetch(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{
		gate:    make(chan struct{}),
		entered: make(chan string, 1),
	}
	svc := newTestService(source)
	ctx := context.Background()

	results := make(chan error, 2)
	go func() {
		_, err := svc.GetPreview(ctx, []string{roomID})
		results <- err
	}()

	// Wait for the first fetch to be in flight, then issue a second
	// request for the same room.
	<-source.entered
	go func() {
		_, err := svc.GetPreview(ctx, []string{roomID})
		results <- err
	}()

	// Give the second request time to reach the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(source.gate)

	require.NoError(t, <-results)
	require.NoError(t, <-results)

	stateCalls, _ := source.counts()
	assert.Equal(t, 1, stateCalls, "second miss should join the in-flight fetch")
}

func strPtr(s string) *string {
	return &s
}

func stateEvent(roomID, eventType string) *event.Event {
	return &event.Event{
		RoomID:   id.RoomID(roomID),
		Type:     event.Type{Type: eventType, Class: event.StateEventType},
		StateKey: strPtr(""),
	}
}

func TestOnNewEvent_TrackedStateEvictsRoom(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{}
	svc := newTestService(source)
	ctx := context.Background()

	_, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	svc.OnNewEvent(stateEvent(roomID, "pangea.activity_plan"), nil)

	_, err = svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	stateCalls, _ := source.counts()
	assert.Equal(t, 2, stateCalls, "invalidation forces a re-fetch")
}

func TestOnNewEvent_UntrackedTypeIgnored(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{}
	svc := newTestService(source)
	ctx := context.Background()

	_, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	svc.OnNewEvent(stateEvent(roomID, "m.room.topic"), nil)

	_, err = svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	stateCalls, _ := source.counts()
	assert.Equal(t, 1, stateCalls)
}

func TestOnNewEvent_NonStateIgnored(t *testing.T) {
	roomID := "!room:example.com"
	source := &fakeSource{}
	svc := newTestService(source)
	ctx := context.Background()

	_, err := svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	evt := &event.Event{
		RoomID: id.RoomID(roomID),
		Type:   event.Type{Type: "pangea.activity_plan", Class: event.MessageEventType},
	}
	svc.OnNewEvent(evt, nil)

	_, err = svc.GetPreview(ctx, []string{roomID})
	require.NoError(t, err)

	stateCalls, _ := source.counts()
	assert.Equal(t, 1, stateCalls)
}

func TestOnNewEvent_OtherRoomUntouched(t *testing.T) {
	source := &fakeSource{}
	svc := newTestService(source)
	ctx := context.Background()

	_, err := svc.GetPreview(ctx, []string{"!one:example.com", "!two:example.com"})
	require.NoError(t, err)

	svc.OnNewEvent(stateEvent("!one:example.com", "pangea.activity_plan"), nil)

	_, err = svc.GetPreview(ctx, []string{"!two:example.com"})
	require.NoError(t, err)

	stateCalls, _ := source.counts()
	assert.Equal(t, 2, stateCalls, "only the invalidated room re-fetches")
}
