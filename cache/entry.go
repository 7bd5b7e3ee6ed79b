package cache

import "time"

// Entry is the envelope persisted to the backing store for every cached
// result. Carrying access metadata inside the stored value is what lets
// the LRU strategy order candidates by true last access instead of
// relying on store scan order.
type Entry struct {
	Key           string        `json:"key"`
	Value         []byte        `json:"value"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	AccessCount   int64         `json:"access_count"`
	LastAccessed  time.Time     `json:"last_accessed"`
	QueryDuration time.Duration `json:"query_duration"`
	Tags          []string      `json:"tags,omitempty"`
}

// newEntry creates an envelope for a freshly cached result.
// Invariant: ExpiresAt >= CreatedAt.
func newEntry(key string, value []byte, ttl time.Duration, queryDuration time.Duration, tags []string, now time.Time) *Entry {
	if ttl < 0 {
		ttl = 0
	}
	return &Entry{
		Key:           key,
		Value:         value,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		LastAccessed:  now,
		QueryDuration: queryDuration,
		Tags:          tags,
	}
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Touch records an access.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

// RemainingTTL returns the time left until expiry at now, or 0 if the
// entry is already expired.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
