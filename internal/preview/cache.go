// ABOUTME: Per-room TTL cache for aggregated preview payloads.
// ABOUTME: Entries expire by time or by reactive invalidation, never by size.

package preview

import (
	"sync"
	"time"
)

// cacheTTL bounds how long a cached room survives without revalidation.
// Reactive invalidation evicts entries the moment tracked state changes;
// the TTL is the backstop for changes that never reach the invalidator,
// such as membership events or missed notifications.
const cacheTTL = 60 * time.Second

// cacheEntry stores a room payload and when it was stored.
type cacheEntry struct {
	payload  RoomPayload
	storedAt time.Time
}

// Cache is a thread-safe TTL store of per-room preview payloads.
// Rooms are cached and invalidated independently; there is no
// cross-room consistency. Eviction is time-based only, so the map stays
// bounded only as long as the room population does.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration

	// now is replaceable for tests
	now func() time.Time
}

// NewCache creates an empty room cache with the fixed TTL.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     cacheTTL,
		now:     time.Now,
	}
}

// Get returns the cached payload for a room if present and fresh.
// A stale entry is treated as absent and evicted as a side effect.
func (c *Cache) Get(roomID string) (RoomPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[roomID]
	if !ok {
		return RoomPayload{}, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, roomID)
		return RoomPayload{}, false
	}
	return entry.payload, true
}

// Put unconditionally stores the payload for a room with the current time.
func (c *Cache) Put(roomID string, payload RoomPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[roomID] = cacheEntry{payload: payload, storedAt: c.now()}
}

// Invalidate removes a room's entry if present. Unknown rooms are a no-op.
func (c *Cache) Invalidate(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, roomID)
}

// Sweep removes every entry whose age has reached the TTL. It is called
// at the start of each batch preview request rather than on a timer, so
// expired entries may linger between requests.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for roomID, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.entries, roomID)
		}
	}
}

// Len returns the number of entries currently held, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
