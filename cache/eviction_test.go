package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/store"
)

func newTestEvictor(t *testing.T, cfg Config) (*evictor, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	return &evictor{
		store:   mem,
		keys:    keyspace{prefix: cfg.Prefix},
		cfg:     cfg.withDefaults(),
		metrics: NewMetrics(),
		tel:     observe.NopTelemetry(),
	}, mem
}

func seedEntry(t *testing.T, mem *store.Memory, key string, lastAccessed time.Time) {
	t.Helper()

	entry := &Entry{
		Key:          key,
		Value:        []byte("v"),
		CreatedAt:    lastAccessed,
		ExpiresAt:    lastAccessed.Add(time.Hour),
		LastAccessed: lastAccessed,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	if err := mem.Set(context.Background(), key, data, 0); err != nil {
		t.Fatalf("seed entry %q: %v", key, err)
	}
}

func TestEvictor_LRURemovesOldestTenth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyLRU
	cfg.MaxCacheSize = 20 // evictCount = 2
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("%sentry%02d", cfg.Prefix, i)
		seedEntry(t, mem, key, base.Add(time.Duration(i)*time.Minute))
	}
	ev.metrics.SetCacheSize(10)

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	// The two least recently accessed entries are gone.
	for _, i := range []int{0, 1} {
		key := fmt.Sprintf("%sentry%02d", cfg.Prefix, i)
		if _, err := mem.Get(ctx, key); err == nil {
			t.Errorf("entry %q survived eviction", key)
		}
	}
	for i := 2; i < 10; i++ {
		key := fmt.Sprintf("%sentry%02d", cfg.Prefix, i)
		if _, err := mem.Get(ctx, key); err != nil {
			t.Errorf("entry %q was evicted, want kept", key)
		}
	}

	snap := ev.metrics.Snapshot()
	if snap.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2", snap.Evictions)
	}
	if snap.CacheSize != 8 {
		t.Errorf("CacheSize = %d, want 8", snap.CacheSize)
	}
}

func TestEvictor_LRUCorruptEntriesEvictedFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyLRU
	cfg.MaxCacheSize = 10 // evictCount = 1
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	base := time.Now()
	seedEntry(t, mem, cfg.Prefix+"old", base.Add(-time.Hour))
	if err := mem.Set(ctx, cfg.Prefix+"corrupt", []byte("not json"), 0); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	if _, err := mem.Get(ctx, cfg.Prefix+"corrupt"); err == nil {
		t.Error("corrupt entry survived eviction")
	}
	if _, err := mem.Get(ctx, cfg.Prefix+"old"); err != nil {
		t.Error("valid entry was evicted before the corrupt one")
	}
}

func TestEvictor_LRUSkipsTagIndexes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyLRU
	cfg.MaxCacheSize = 10
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	seedEntry(t, mem, cfg.Prefix+"entry", time.Now())
	tagKey := ev.keys.tagKey("users")
	if err := mem.Set(ctx, tagKey, []byte(`["k"]`), 0); err != nil {
		t.Fatalf("seed tag index: %v", err)
	}

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	// The entry is the only eviction candidate; the index survives.
	if _, err := mem.Get(ctx, tagKey); err != nil {
		t.Error("tag index was evicted")
	}
	if _, err := mem.Get(ctx, cfg.Prefix+"entry"); err == nil {
		t.Error("entry survived eviction, want evicted")
	}
}

func TestEvictor_AdaptiveReconcileFreesEnoughRoom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.MaxCacheSize = 5
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		seedEntry(t, mem, fmt.Sprintf("%se%d", cfg.Prefix, i), time.Now())
	}
	// Tracked size is over the limit only because of expired entries;
	// reconciling expiry alone brings it back under.
	ev.metrics.SetCacheSize(6)

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	snap := ev.metrics.Snapshot()
	if snap.CacheSize != 4 {
		t.Errorf("CacheSize = %d, want 4", snap.CacheSize)
	}
	if snap.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2 (expiry only)", snap.Evictions)
	}
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("%se%d", cfg.Prefix, i)
		if _, err := mem.Get(ctx, key); err != nil {
			t.Errorf("entry %q was evicted, want kept", key)
		}
	}
}

func TestEvictor_AdaptiveFallsBackToLRU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.MaxCacheSize = 5 // evictCount = 1 after reconcile
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 6; i++ {
		seedEntry(t, mem, fmt.Sprintf("%se%d", cfg.Prefix, i), base.Add(time.Duration(i)*time.Minute))
	}
	ev.metrics.SetCacheSize(6)

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	// Nothing expired, so the LRU pass removes the coldest entry.
	if _, err := mem.Get(ctx, cfg.Prefix+"e0"); err == nil {
		t.Error("coldest entry survived eviction")
	}
	snap := ev.metrics.Snapshot()
	if snap.CacheSize != 5 {
		t.Errorf("CacheSize = %d, want 5", snap.CacheSize)
	}
	if snap.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", snap.Evictions)
	}
}

func TestEvictor_TTLReconcile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyTTL
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedEntry(t, mem, fmt.Sprintf("%se%d", cfg.Prefix, i), time.Now())
	}
	// Five were tracked; two expired at the store since the last pass.
	ev.metrics.SetCacheSize(5)

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	snap := ev.metrics.Snapshot()
	if snap.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2", snap.Evictions)
	}
	if snap.CacheSize != 3 {
		t.Errorf("CacheSize = %d, want 3", snap.CacheSize)
	}
}

func TestEvictor_TTLReconcileNoNegativeDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyTTL
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedEntry(t, mem, fmt.Sprintf("%se%d", cfg.Prefix, i), time.Now())
	}
	// Tracked count lagging behind reality must not count as evictions.
	ev.metrics.SetCacheSize(1)

	if err := ev.evict(ctx); err != nil {
		t.Fatalf("evict() error = %v", err)
	}

	snap := ev.metrics.Snapshot()
	if snap.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0", snap.Evictions)
	}
	if snap.CacheSize != 3 {
		t.Errorf("CacheSize = %d, want 3", snap.CacheSize)
	}
}

func TestEvictor_RecountSize(t *testing.T) {
	cfg := DefaultConfig()
	ev, mem := newTestEvictor(t, cfg)
	ctx := context.Background()

	seedEntry(t, mem, cfg.Prefix+"a", time.Now())
	seedEntry(t, mem, cfg.Prefix+"b", time.Now())
	if err := mem.Set(ctx, ev.keys.tagKey("t"), []byte(`[]`), 0); err != nil {
		t.Fatalf("seed tag index: %v", err)
	}
	ev.metrics.SetCacheSize(99)
	ev.metrics.AddEvictions(4)

	if err := ev.recountSize(ctx); err != nil {
		t.Fatalf("recountSize() error = %v", err)
	}

	snap := ev.metrics.Snapshot()
	if snap.CacheSize != 2 {
		t.Errorf("CacheSize = %d, want 2 (tag index excluded)", snap.CacheSize)
	}
	if snap.Evictions != 4 {
		t.Errorf("Evictions = %d, want unchanged 4", snap.Evictions)
	}
}
