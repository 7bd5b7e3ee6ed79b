package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/jonwraymond/querycache/store"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	e, err := New(mem, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, mem
}

func TestNew_Validation(t *testing.T) {
	mem := store.NewMemory()

	tests := []struct {
		name    string
		store   store.Store
		cfg     Config
		wantErr error
	}{
		{name: "valid", store: mem, cfg: DefaultConfig(), wantErr: nil},
		{name: "zero ttl", store: mem, cfg: func() Config {
			c := DefaultConfig()
			c.DefaultTTL = 0
			return c
		}(), wantErr: ErrInvalidTTL},
		{name: "zero size", store: mem, cfg: func() Config {
			c := DefaultConfig()
			c.MaxCacheSize = 0
			return c
		}(), wantErr: ErrInvalidCacheSize},
		{name: "empty prefix", store: mem, cfg: func() Config {
			c := DefaultConfig()
			c.Prefix = ""
			return c
		}(), wantErr: ErrInvalidPrefix},
		{name: "multiplier below one", store: mem, cfg: func() Config {
			c := DefaultConfig()
			c.FrequentQueryTTLMultiplier = 0.5
			return c
		}(), wantErr: ErrInvalidMultiplier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.store, tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("New(nil store) error = nil, want error")
	}
}

func TestEngine_SetGetRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	query := "SELECT * FROM users WHERE id = :id"
	params := map[string]any{"id": 7}
	result := []byte(`[{"id":7,"name":"alice"}]`)

	if !e.Set(ctx, query, result, params, 50*time.Millisecond, nil) {
		t.Fatal("Set() = false, want true")
	}

	got, ok := e.Get(ctx, query, params)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if !bytes.Equal(got, result) {
		t.Errorf("Get() = %q, want %q", got, result)
	}

	snap := e.Metrics()
	if snap.Hits != 1 || snap.Misses != 0 {
		t.Errorf("hits/misses = %d/%d, want 1/0", snap.Hits, snap.Misses)
	}
	if snap.CacheSize != 1 {
		t.Errorf("CacheSize = %d, want 1", snap.CacheSize)
	}
}

func TestEngine_GetMiss(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	if _, ok := e.Get(context.Background(), "SELECT 1", nil); ok {
		t.Fatal("Get() hit on empty cache")
	}
	if snap := e.Metrics(); snap.Misses != 1 {
		t.Errorf("Misses = %d, want 1", snap.Misses)
	}
}

func TestEngine_DifferentParamsAreDifferentEntries(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	query := "SELECT * FROM users WHERE id = :id"
	e.Set(ctx, query, []byte("seven"), map[string]any{"id": 7}, 0, nil)
	e.Set(ctx, query, []byte("eight"), map[string]any{"id": 8}, 0, nil)

	got, ok := e.Get(ctx, query, map[string]any{"id": 7})
	if !ok || string(got) != "seven" {
		t.Errorf("Get(id=7) = %q/%v, want seven/hit", got, ok)
	}
	got, ok = e.Get(ctx, query, map[string]any{"id": 8})
	if !ok || string(got) != "eight" {
		t.Errorf("Get(id=8) = %q/%v, want eight/hit", got, ok)
	}
}

func TestEngine_DisabledNeverCaches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e, mem := newTestEngine(t, cfg)
	ctx := context.Background()

	if e.Set(ctx, "SELECT 1", []byte("v"), nil, 0, nil) {
		t.Error("Set() = true on disabled engine")
	}
	if mem.Len() != 0 {
		t.Errorf("store has %d entries, want 0", mem.Len())
	}
	if _, ok := e.Get(ctx, "SELECT 1", nil); ok {
		t.Error("Get() hit on disabled engine")
	}
}

func TestEngine_RejectsMutatingQueries(t *testing.T) {
	e, mem := newTestEngine(t, DefaultConfig())

	if e.Set(context.Background(), "UPDATE users SET name = 'x'", []byte("v"), nil, 0, nil) {
		t.Error("Set() admitted a mutating query")
	}
	if mem.Len() != 0 {
		t.Errorf("store has %d entries, want 0", mem.Len())
	}
}

func TestEngine_RejectsEmptyResults(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	if e.Set(context.Background(), "SELECT 1", []string{}, nil, 0, nil) {
		t.Error("Set() admitted an empty result")
	}
}

func TestEngine_SerializesNonByteResults(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	type row struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	rows := []row{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}

	if !e.Set(ctx, "SELECT 1", rows, nil, 0, nil) {
		t.Fatal("Set() = false, want true")
	}

	got, ok := e.Get(ctx, "SELECT 1", nil)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}

	var decoded []row
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("unmarshal cached result: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Name != "a" {
		t.Errorf("decoded = %+v, want original rows", decoded)
	}
}

func TestEngine_SetIdempotentSize(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !e.Set(ctx, "SELECT 1", []byte("v"), nil, 0, nil) {
			t.Fatalf("Set() iteration %d = false", i)
		}
	}

	if snap := e.Metrics(); snap.CacheSize != 1 {
		t.Errorf("CacheSize = %d after re-sets, want 1", snap.CacheSize)
	}
}

func TestEngine_HitUpdatesAccessMetadata(t *testing.T) {
	e, mem := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.Set(ctx, "SELECT 1", []byte("v"), nil, 0, nil)
	e.Get(ctx, "SELECT 1", nil)
	e.Get(ctx, "SELECT 1", nil)

	key, err := e.keyer.Key("SELECT 1", nil)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	data, err := mem.Get(ctx, key)
	if err != nil {
		t.Fatalf("store Get() error = %v", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", entry.AccessCount)
	}
}

func TestEngine_CorruptEntryIsMissAndDeleted(t *testing.T) {
	e, mem := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	key, err := e.keyer.Key("SELECT 1", nil)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if err := mem.Set(ctx, key, []byte("not json"), 0); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	if _, ok := e.Get(ctx, "SELECT 1", nil); ok {
		t.Fatal("Get() hit on corrupt entry")
	}
	if _, err := mem.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Error("corrupt entry not deleted")
	}
}

func TestEngine_LazyExpiry(t *testing.T) {
	e, mem := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	// Envelope already expired but the store key still lives (store with
	// no native TTL support, or clock skew).
	key, err := e.keyer.Key("SELECT 1", nil)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	stale := &Entry{
		Key:       key,
		Value:     []byte("v"),
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	data, _ := json.Marshal(stale)
	if err := mem.Set(ctx, key, data, 0); err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	if _, ok := e.Get(ctx, "SELECT 1", nil); ok {
		t.Fatal("Get() hit on expired envelope")
	}
	if _, err := mem.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Error("expired entry not deleted")
	}
}

func TestEngine_InvalidateByTag(t *testing.T) {
	e, mem := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.Set(ctx, "SELECT a FROM users", []byte("a"), nil, 0, []string{"users"})
	e.Set(ctx, "SELECT b FROM users", []byte("b"), nil, 0, []string{"users", "reports"})
	e.Set(ctx, "SELECT c FROM orders", []byte("c"), nil, 0, []string{"orders"})

	removed, err := e.InvalidateByTag(ctx, "users")
	if err != nil {
		t.Fatalf("InvalidateByTag() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("InvalidateByTag() removed = %d, want 2", removed)
	}

	if _, ok := e.Get(ctx, "SELECT a FROM users", nil); ok {
		t.Error("tagged entry a survived invalidation")
	}
	if _, ok := e.Get(ctx, "SELECT b FROM users", nil); ok {
		t.Error("tagged entry b survived invalidation")
	}
	if _, ok := e.Get(ctx, "SELECT c FROM orders", nil); !ok {
		t.Error("unrelated entry was invalidated")
	}

	// Tag index removed with its members.
	if _, err := mem.Get(ctx, e.keys.tagKey("users")); !errors.Is(err, store.ErrNotFound) {
		t.Error("tag index survived invalidation")
	}

	snap := e.Metrics()
	if snap.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2", snap.Evictions)
	}
}

func TestEngine_InvalidateByTagMissing(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	removed, err := e.InvalidateByTag(context.Background(), "nope")
	if err != nil {
		t.Fatalf("InvalidateByTag() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("InvalidateByTag() removed = %d, want 0", removed)
	}
}

func TestEngine_InvalidatePattern(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.Set(ctx, "SELECT a", []byte("a"), nil, 0, nil)
	e.Set(ctx, "SELECT b", []byte("b"), nil, 0, nil)

	removed, err := e.InvalidatePattern(ctx, "*")
	if err != nil {
		t.Fatalf("InvalidatePattern() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("InvalidatePattern() removed = %d, want 2", removed)
	}
	if snap := e.Metrics(); snap.CacheSize != 0 {
		t.Errorf("CacheSize = %d, want 0", snap.CacheSize)
	}
}

func TestEngine_Clear(t *testing.T) {
	e, mem := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	e.Set(ctx, "SELECT a", []byte("a"), nil, 0, []string{"users"})
	e.Set(ctx, "SELECT b", []byte("b"), nil, 0, nil)

	removed, err := e.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Clear() removed = %d entries, want 2", removed)
	}
	if mem.Len() != 0 {
		t.Errorf("store has %d keys after Clear, want 0 (indexes included)", mem.Len())
	}
	if snap := e.Metrics(); snap.CacheSize != 0 {
		t.Errorf("CacheSize = %d, want 0", snap.CacheSize)
	}
}

func TestEngine_EvictsWhenOverCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyLRU
	cfg.MaxCacheSize = 10
	e, mem := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 0; i < cfg.MaxCacheSize+1; i++ {
		query := fmt.Sprintf("SELECT x%d FROM t", i)
		if !e.Set(ctx, query, []byte("v"), nil, 0, nil) {
			t.Fatalf("Set(%d) = false", i)
		}
	}

	if mem.Len() > cfg.MaxCacheSize {
		t.Errorf("store has %d entries, want <= %d", mem.Len(), cfg.MaxCacheSize)
	}
	if snap := e.Metrics(); snap.Evictions == 0 {
		t.Error("Evictions = 0, want > 0")
	}
}

func TestEngine_MetricsIncludePatternSummaries(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.Set(ctx, fmt.Sprintf("SELECT * FROM users WHERE id = %d", i), []byte("v"), nil, 20*time.Millisecond, nil)
	}
	e.Set(ctx, "SELECT * FROM orders", []byte("v"), nil, 5*time.Millisecond, nil)

	snap := e.Metrics()
	if len(snap.TopPatterns) == 0 {
		t.Fatal("TopPatterns is empty")
	}
	if snap.TopPatterns[0].Pattern != "SELECT * FROM USERS WHERE ID = ?" {
		t.Errorf("TopPatterns[0] = %q", snap.TopPatterns[0].Pattern)
	}
	if snap.TopPatterns[0].Count != 3 {
		t.Errorf("TopPatterns[0].Count = %d, want 3", snap.TopPatterns[0].Count)
	}
	if len(snap.AvgDurations) == 0 {
		t.Fatal("AvgDurations is empty")
	}
}

func TestEngine_AdaptiveTTLAgainstRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig() // adaptive strategy, 5m base TTL
	e, err := New(store.NewRedisFromClient(client), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	// Time-sensitive query: TTL capped at 60s.
	if !e.Set(ctx, "SELECT now()", []byte("t0"), nil, 0, nil) {
		t.Fatal("Set() = false, want true")
	}

	if _, ok := e.Get(ctx, "SELECT now()", nil); !ok {
		t.Fatal("Get() miss immediately after Set")
	}

	srv.FastForward(TimeSensitiveMaxTTL + time.Second)

	if _, ok := e.Get(ctx, "SELECT now()", nil); ok {
		t.Error("Get() hit after time-sensitive TTL cap elapsed")
	}

	// A normal query written at the same instant outlives the cap.
	if !e.Set(ctx, "SELECT id FROM users", []byte("rows"), nil, 0, nil) {
		t.Fatal("Set() = false, want true")
	}
	srv.FastForward(TimeSensitiveMaxTTL + time.Second)
	if _, ok := e.Get(ctx, "SELECT id FROM users", nil); !ok {
		t.Error("Get() miss before default TTL elapsed")
	}
}

func TestEngine_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	cfg.MetricsInterval = 5 * time.Millisecond
	e, mem := newTestEngine(t, cfg)
	ctx := context.Background()

	e.Set(ctx, "SELECT 1", []byte("v"), nil, 0, nil)
	// Desync the tracked size; the background loops reconcile it.
	e.metrics.SetCacheSize(42)

	e.Start(ctx)
	defer e.Stop()

	waitFor(t, time.Second, func() bool {
		return e.Metrics().CacheSize == int64(mem.Len())
	})

	e.Stop()
	e.Stop() // idempotent
}

func TestEngine_WithKeyer(t *testing.T) {
	e, err := New(store.NewMemory(), DefaultConfig(), WithKeyer(staticKeyer{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	// Both writes collapse onto the static key.
	e.Set(ctx, "SELECT a", []byte("first"), nil, 0, nil)
	e.Set(ctx, "SELECT b", []byte("second"), nil, 0, nil)

	got, ok := e.Get(ctx, "SELECT a", nil)
	if !ok || string(got) != "second" {
		t.Errorf("Get() = %q/%v, want second/hit", got, ok)
	}
}

type staticKeyer struct{}

func (staticKeyer) Key(string, map[string]any) (string, error) {
	return "static:key", nil
}
