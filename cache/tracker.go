package cache

import (
	"sort"
	"sync"
	"time"
)

// maxTrackedDurations bounds the per-pattern duration history to the
// most recent observations.
const maxTrackedDurations = 10

// PatternCount pairs a query pattern with its observed frequency.
type PatternCount struct {
	Pattern string
	Count   int64
}

// PatternDuration pairs a query pattern with the mean of its retained
// durations.
type PatternDuration struct {
	Pattern string
	Avg     time.Duration
}

// PatternTracker records query pattern frequency and duration history.
//
// State is in-process only: it is shared across concurrent callers
// within the process, protected by a lock, and reset on restart. There
// is no durability guarantee.
type PatternTracker struct {
	mu        sync.Mutex
	frequency map[string]int64
	durations map[string][]time.Duration
}

// NewPatternTracker creates an empty tracker.
func NewPatternTracker() *PatternTracker {
	return &PatternTracker{
		frequency: make(map[string]int64),
		durations: make(map[string][]time.Duration),
	}
}

// TrackPattern increments the frequency counter for pattern.
func (t *PatternTracker) TrackPattern(pattern string) {
	t.mu.Lock()
	t.frequency[pattern]++
	t.mu.Unlock()
}

// TrackDuration appends d to the pattern's duration history, trimming
// the oldest observation once the history exceeds maxTrackedDurations.
func (t *PatternTracker) TrackDuration(pattern string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := append(t.durations[pattern], d)
	if len(history) > maxTrackedDurations {
		history = history[len(history)-maxTrackedDurations:]
	}
	t.durations[pattern] = history
}

// Frequency returns the observed frequency for pattern.
func (t *PatternTracker) Frequency(pattern string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frequency[pattern]
}

// TopPatterns returns up to limit patterns sorted by frequency
// descending. Ties break by pattern name for determinism.
func (t *PatternTracker) TopPatterns(limit int) []PatternCount {
	t.mu.Lock()
	counts := make([]PatternCount, 0, len(t.frequency))
	for pattern, count := range t.frequency {
		counts = append(counts, PatternCount{Pattern: pattern, Count: count})
	}
	t.mu.Unlock()

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Pattern < counts[j].Pattern
	})

	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

// AvgDurations returns up to limit patterns with the mean of their
// retained durations, sorted by mean descending. Ties break by pattern
// name for determinism.
func (t *PatternTracker) AvgDurations(limit int) []PatternDuration {
	t.mu.Lock()
	avgs := make([]PatternDuration, 0, len(t.durations))
	for pattern, history := range t.durations {
		if len(history) == 0 {
			continue
		}
		var total time.Duration
		for _, d := range history {
			total += d
		}
		avgs = append(avgs, PatternDuration{
			Pattern: pattern,
			Avg:     total / time.Duration(len(history)),
		})
	}
	t.mu.Unlock()

	sort.Slice(avgs, func(i, j int) bool {
		if avgs[i].Avg != avgs[j].Avg {
			return avgs[i].Avg > avgs[j].Avg
		}
		return avgs[i].Pattern < avgs[j].Pattern
	})

	if limit > 0 && len(avgs) > limit {
		avgs = avgs[:limit]
	}
	return avgs
}
