package wsfanout

import (
	"strings"
	"sync"
	"time"
)

var reservedKeys = map[string]bool{
	"admin":    true,
	"internal": true,
	"system":   true,
}

// isFilteredKey reports whether a field name must be stripped from a
// non-admin payload: underscore-prefixed, "_protected"-suffixed, or one of
// the reserved names, per spec.md §4.5 and invariant 6 in §8.
func isFilteredKey(key string) bool {
	if strings.HasPrefix(key, "_") || strings.HasSuffix(key, "_protected") {
		return true
	}
	return reservedKeys[key]
}

// filterFields returns fields unchanged for admins, or a copy with filtered
// keys removed for everyone else.
func filterFields(fields map[string]any, admin bool) map[string]any {
	if admin {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if !isFilteredKey(k) {
			out[k] = v
		}
	}
	return out
}

// payloadCache memoizes the filtered payload for a (topic, admin) pair for a
// short TTL, since the same delta is typically filtered once per view for
// many subscribers in the same fan-out pass.
type payloadCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

type cacheKey struct {
	topic string
	admin bool
}

type cacheEntry struct {
	fields  map[string]any
	expires time.Time
}

func newPayloadCache(ttl time.Duration, now func() time.Time) *payloadCache {
	if now == nil {
		now = time.Now
	}
	return &payloadCache{ttl: ttl, entries: make(map[cacheKey]cacheEntry), now: now}
}

// filtered returns the cached filtered view of fields for topic, computing
// and storing it on a miss.
func (c *payloadCache) filtered(topic string, admin bool, fields map[string]any) map[string]any {
	key := cacheKey{topic: topic, admin: admin}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.fields
	}
	c.mu.Unlock()

	out := filterFields(fields, admin)

	c.mu.Lock()
	c.entries[key] = cacheEntry{fields: out, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return out
}
