// ABOUTME: Tests for the per-room TTL cache
// ABOUTME: Covers freshness, lazy eviction, targeted invalidation, and sweeping

package preview

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pangea-chat/preview-gateway/internal/store"
)

// newTestCache returns a cache with a controllable clock.
func newTestCache(t *testing.T) (*Cache, func(time.Duration)) {
	t.Helper()
	c := NewCache()

	var mu sync.Mutex
	current := time.Now()
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(d)
	}
	return c, advance
}

func testPayload(planID string) RoomPayload {
	return RoomPayload{State: store.RoomState{
		"pangea.activity_plan": {
			store.StateKeyDefault: store.EventJSON{
				"content": map[string]any{"plan_id": planID},
			},
		},
	}}
}

func TestCache_GetFresh(t *testing.T) {
	c, _ := newTestCache(t)

	c.Put("!room:example.com", testPayload("p1"))

	payload, ok := c.Get("!room:example.com")
	require.True(t, ok)
	assert.Equal(t, testPayload("p1"), payload)
}

func TestCache_GetMissing(t *testing.T) {
	c, _ := newTestCache(t)

	_, ok := c.Get("!room:example.com")
	assert.False(t, ok)
}

func TestCache_StaleTreatedAsAbsentAndEvicted(t *testing.T) {
	c, advance := newTestCache(t)

	c.Put("!room:example.com", testPayload("p1"))
	advance(cacheTTL)

	_, ok := c.Get("!room:example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "stale entry should be evicted on access")
}

func TestCache_PutOverwrites(t *testing.T) {
	c, advance := newTestCache(t)

	c.Put("!room:example.com", testPayload("p1"))
	advance(cacheTTL - time.Second)
	c.Put("!room:example.com", testPayload("p2"))

	// The overwrite reset the clock; the entry survives past the
	// original expiry.
	advance(2 * time.Second)
	payload, ok := c.Get("!room:example.com")
	require.True(t, ok)
	assert.Equal(t, testPayload("p2"), payload)
}

func TestCache_InvalidateTargeted(t *testing.T) {
	c, _ := newTestCache(t)

	c.Put("!one:example.com", testPayload("p1"))
	c.Put("!two:example.com", testPayload("p2"))

	c.Invalidate("!one:example.com")

	_, ok := c.Get("!one:example.com")
	assert.False(t, ok)
	payload, ok := c.Get("!two:example.com")
	require.True(t, ok)
	assert.Equal(t, testPayload("p2"), payload)
}

func TestCache_InvalidateUnknownIsNoop(t *testing.T) {
	c, _ := newTestCache(t)

	c.Invalidate("!never-cached:example.com")
	assert.Equal(t, 0, c.Len())
}

func TestCache_SweepRemovesOnlyAged(t *testing.T) {
	c, advance := newTestCache(t)

	c.Put("!old:example.com", testPayload("p1"))
	advance(cacheTTL / 2)
	c.Put("!new:example.com", testPayload("p2"))
	advance(cacheTTL / 2)

	c.Sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("!old:example.com")
	assert.False(t, ok)
	_, ok = c.Get("!new:example.com")
	assert.True(t, ok)
}
