package cache

import (
	"sync"
	"time"
)

// Metrics holds the engine's operational counters. All fields are
// guarded by a lock because concurrent callers share one instance.
type Metrics struct {
	mu             sync.Mutex
	hits           int64
	misses         int64
	evictions      int64
	totalQueries   int64
	totalCacheTime time.Duration
	totalQueryTime time.Duration
	cacheSize      int64
}

// MetricsSnapshot is a point-in-time view of the engine's metrics,
// including derived rates and the tracker's pattern summaries.
type MetricsSnapshot struct {
	Hits         int64             `json:"hits"`
	Misses       int64             `json:"misses"`
	Evictions    int64             `json:"evictions"`
	TotalQueries int64             `json:"total_queries"`
	CacheSize    int64             `json:"cache_size"`
	HitRate      float64           `json:"hit_rate"`
	AvgCacheTime time.Duration     `json:"avg_cache_time"`
	AvgQueryTime time.Duration     `json:"avg_query_time"`
	TopPatterns  []PatternCount    `json:"top_query_patterns"`
	AvgDurations []PatternDuration `json:"avg_query_durations"`
}

// NewMetrics creates a zeroed metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordHit records a cache hit and the time spent serving it.
func (m *Metrics) RecordHit(cacheTime time.Duration) {
	m.mu.Lock()
	m.hits++
	m.totalQueries++
	m.totalCacheTime += cacheTime
	m.mu.Unlock()
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss() {
	m.mu.Lock()
	m.misses++
	m.totalQueries++
	m.mu.Unlock()
}

// RecordQueryTime accumulates the underlying query duration reported at
// write time. Attributed to misses: a result is only written after the
// caller had to run the query.
func (m *Metrics) RecordQueryTime(d time.Duration) {
	m.mu.Lock()
	m.totalQueryTime += d
	m.mu.Unlock()
}

// AddEvictions adds n to the eviction counter.
func (m *Metrics) AddEvictions(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.evictions += n
	m.mu.Unlock()
}

// AdjustCacheSize adds delta to the tracked entry count, clamped at 0.
func (m *Metrics) AdjustCacheSize(delta int64) {
	m.mu.Lock()
	m.cacheSize += delta
	if m.cacheSize < 0 {
		m.cacheSize = 0
	}
	m.mu.Unlock()
}

// SetCacheSize overwrites the tracked entry count.
func (m *Metrics) SetCacheSize(n int64) {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	m.cacheSize = n
	m.mu.Unlock()
}

// CacheSize returns the tracked entry count.
func (m *Metrics) CacheSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheSize
}

// Snapshot returns a point-in-time copy of the counters with derived
// rates. Pattern summaries are filled in by the engine.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Hits:         m.hits,
		Misses:       m.misses,
		Evictions:    m.evictions,
		TotalQueries: m.totalQueries,
		CacheSize:    m.cacheSize,
	}
	if m.totalQueries > 0 {
		snap.HitRate = float64(m.hits) / float64(m.totalQueries)
	}
	if m.hits > 0 {
		snap.AvgCacheTime = m.totalCacheTime / time.Duration(m.hits)
	}
	if m.misses > 0 {
		snap.AvgQueryTime = m.totalQueryTime / time.Duration(m.misses)
	}
	return snap
}
