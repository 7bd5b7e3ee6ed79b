package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/store"
)

// evictor implements the engine's eviction strategies against the
// backing store. It is driven synchronously when a write pushes the
// cache over its size limit, and periodically by the background tasks.
type evictor struct {
	store   store.Store
	keys    keyspace
	cfg     Config
	metrics *Metrics
	tel     *observe.Telemetry
}

// evict runs one eviction pass for the configured strategy.
//
// StrategyTTL relies on store-level expiry and only reconciles the
// tracked size. StrategyLRU removes the least recently used tenth of
// the cache. StrategyAdaptive reconciles expiry first, since its short
// TTLs often free enough room, and falls back to an LRU pass when the
// cache is still over its limit.
func (ev *evictor) evict(ctx context.Context) error {
	switch ev.cfg.Strategy {
	case StrategyTTL:
		return ev.reconcileTTL(ctx)
	case StrategyLRU:
		return ev.evictLRU(ctx)
	case StrategyAdaptive:
		if err := ev.reconcileTTL(ctx); err != nil {
			return err
		}
		if ev.metrics.CacheSize() <= int64(ev.cfg.MaxCacheSize) {
			return nil
		}
		return ev.evictLRU(ctx)
	default:
		return fmt.Errorf("cache: unknown eviction strategy %q", ev.cfg.Strategy)
	}
}

// evictLRU removes the MaxCacheSize/10 entries with the oldest last
// access. Entries whose envelopes cannot be loaded sort first: they are
// unusable anyway and eviction is the cheapest way to clean them up.
func (ev *evictor) evictLRU(ctx context.Context) error {
	keys, err := ev.liveEntryKeys(ctx)
	if err != nil {
		return fmt.Errorf("cache: lru scan: %w", err)
	}

	evictCount := ev.cfg.MaxCacheSize / 10
	if evictCount < 1 {
		evictCount = 1
	}
	if evictCount > len(keys) {
		evictCount = len(keys)
	}
	if evictCount == 0 {
		ev.metrics.SetCacheSize(0)
		return nil
	}

	type candidate struct {
		key          string
		lastAccessed time.Time
		loaded       bool
	}

	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		c := candidate{key: key}
		if data, err := ev.store.Get(ctx, key); err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil {
				c.lastAccessed = entry.LastAccessed
				c.loaded = true
			}
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].loaded != candidates[j].loaded {
			return !candidates[i].loaded
		}
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})

	victims := make([]string, 0, evictCount)
	for _, c := range candidates[:evictCount] {
		victims = append(victims, c.key)
	}

	removed, err := ev.store.Delete(ctx, victims...)
	ev.metrics.AddEvictions(removed)
	ev.metrics.SetCacheSize(int64(len(keys)) - removed)
	ev.tel.Metrics.RecordEviction(ctx, ev.cfg.Strategy.String(), removed)

	if err != nil {
		return fmt.Errorf("cache: lru delete: %w", err)
	}
	return nil
}

// reconcileTTL recounts the live entries and attributes any positive
// drop in the tracked size to store-level TTL expiry. The store already
// removed the data; this keeps the counters honest.
func (ev *evictor) reconcileTTL(ctx context.Context) error {
	keys, err := ev.liveEntryKeys(ctx)
	if err != nil {
		return fmt.Errorf("cache: ttl reconcile: %w", err)
	}

	live := int64(len(keys))
	if expired := ev.metrics.CacheSize() - live; expired > 0 {
		ev.metrics.AddEvictions(expired)
		ev.tel.Metrics.RecordEviction(ctx, StrategyTTL.String(), expired)
	}
	ev.metrics.SetCacheSize(live)
	return nil
}

// recountSize refreshes the tracked entry count without touching the
// eviction counters.
func (ev *evictor) recountSize(ctx context.Context) error {
	keys, err := ev.liveEntryKeys(ctx)
	if err != nil {
		return fmt.Errorf("cache: size recount: %w", err)
	}
	ev.metrics.SetCacheSize(int64(len(keys)))
	return nil
}

// liveEntryKeys scans the cache keyspace, excluding tag index keys.
func (ev *evictor) liveEntryKeys(ctx context.Context) ([]string, error) {
	keys, err := ev.store.Scan(ctx, ev.keys.entryPattern())
	if err != nil {
		return nil, err
	}

	entries := keys[:0]
	for _, key := range keys {
		if !ev.keys.isTagKey(key) {
			entries = append(entries, key)
		}
	}
	return entries, nil
}
