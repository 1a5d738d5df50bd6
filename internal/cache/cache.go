package cache

import (
	"sync"
	"time"
)

const (
	// DefaultMaxEntries bounds the cache when no capacity is configured.
	DefaultMaxEntries = 100

	// DefaultExpiration is the time-to-live applied when none is configured.
	DefaultExpiration = 24 * time.Hour
)

// Entry is one cached terminal outcome.
type Entry struct {
	Status string
	Text   string
}

type record struct {
	entry      Entry
	insertedAt time.Time
}

// Cache maps job identifiers to terminal (status, text) outcomes. All
// operations are serialized by an internal mutex and safe for concurrent
// pollers. Expired entries are removed lazily on lookup; inserting beyond
// capacity evicts the single entry with the oldest insertion timestamp.
type Cache struct {
	mu         sync.Mutex
	records    map[string]record
	maxEntries int
	expiration time.Duration

	// now is swapped out in tests to control expiration.
	now func() time.Time
}

// New creates a Cache with the given capacity and time-to-live.
// Non-positive values fall back to the defaults.
func New(maxEntries int, expiration time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Cache{
		records:    make(map[string]record),
		maxEntries: maxEntries,
		expiration: expiration,
		now:        time.Now,
	}
}

// terminal reports whether a status admits no further transitions. Only
// terminal outcomes may be cached; an in-flight job must always reach the
// remote service again.
func terminal(status string) bool {
	switch status {
	case "completed", "failed", "not_found":
		return true
	}
	return false
}

// Get returns the cached outcome for orderID, if present and not expired.
// An expired entry is deleted as a side effect of the lookup.
func (c *Cache) Get(orderID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[orderID]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(rec.insertedAt) > c.expiration {
		delete(c.records, orderID)
		return Entry{}, false
	}
	return rec.entry, true
}

// Set stores a terminal outcome for orderID. Non-terminal statuses are
// ignored. When the cache is full, the entry with the oldest insertion
// timestamp is evicted first.
func (c *Cache) Set(orderID, status, text string) {
	if !terminal(status) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[orderID]; !exists && len(c.records) >= c.maxEntries {
		c.evictOldest()
	}

	c.records[orderID] = record{
		entry:      Entry{Status: status, Text: text},
		insertedAt: c.now(),
	}
}

// Len returns the number of entries currently held, including any that have
// expired but not yet been looked up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]record)
}

// evictOldest removes the single record with the smallest insertion
// timestamp. Caller must hold the mutex.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true

	for key, rec := range c.records {
		if first || rec.insertedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = rec.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.records, oldestKey)
	}
}
