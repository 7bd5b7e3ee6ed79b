package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/store"
)

// patternSummaryLimit bounds the pattern summaries in a metrics snapshot.
const patternSummaryLimit = 10

// tagMarker separates the tag index namespace from entry keys so that
// entry scans never count index keys.
const tagMarker = "tag!"

// keyspace maps engine concepts onto store key patterns.
type keyspace struct {
	prefix string
}

func (k keyspace) entryPattern() string {
	return k.prefix + "*"
}

func (k keyspace) globPattern(glob string) string {
	return k.prefix + glob
}

func (k keyspace) tagKey(tag string) string {
	return k.prefix + tagMarker + tag
}

func (k keyspace) isTagKey(key string) bool {
	return strings.HasPrefix(key, k.prefix+tagMarker)
}

// Engine is the adaptive query-result cache facade.
//
// Contract:
// - Concurrency: safe for concurrent use; the backing store is the only
//   shared mutable resource across process boundaries.
// - Errors: Get and Set recover every cache-layer failure locally; the
//   cache is an optimization, never a correctness dependency.
// - Consistency: no ordering is guaranteed between a concurrent Set and
//   Get of the same key; last write wins at the store, with staleness
//   bounded by TTL.
type Engine struct {
	store   store.Store
	cfg     Config
	keys    keyspace
	keyer   Keyer
	tracker *PatternTracker
	metrics *Metrics
	evictor *evictor
	tasks   *TaskManager
	tel     *observe.Telemetry
	logger  observe.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry attaches observability components to the engine.
func WithTelemetry(tel *observe.Telemetry) Option {
	return func(e *Engine) {
		if tel != nil {
			e.tel = tel
		}
	}
}

// WithKeyer overrides the default SHA-256 keyer.
func WithKeyer(k Keyer) Option {
	return func(e *Engine) {
		if k != nil {
			e.keyer = k
		}
	}
}

// New creates an Engine over the given backing store.
func New(st store.Store, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("cache: store is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:   st,
		cfg:     cfg,
		keys:    keyspace{prefix: cfg.Prefix},
		tracker: NewPatternTracker(),
		metrics: NewMetrics(),
		tel:     observe.NopTelemetry(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.keyer == nil {
		e.keyer = NewQueryKeyer(cfg.Prefix)
	}
	e.logger = e.tel.Logger.WithComponent("cache")

	e.evictor = &evictor{
		store:   st,
		keys:    e.keys,
		cfg:     cfg,
		metrics: e.metrics,
		tel:     e.tel,
	}
	e.tasks = newTaskManager(taskConfig{
		cleanupInterval: cfg.CleanupInterval,
		metricsInterval: cfg.MetricsInterval,
		metricsEnabled:  cfg.MetricsEnabled,
		cleanup:         e.evictor.reconcileTTL,
		recount:         e.evictor.recountSize,
		logger:          e.tel.Logger.WithComponent("tasks"),
	})

	return e, nil
}

// Start launches the background maintenance workers. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.tasks.Start(ctx)
}

// Stop cancels the background workers and waits for them to terminate.
// Idempotent; cancellation is a normal shutdown signal, not an error.
func (e *Engine) Stop() {
	e.tasks.Stop()
}

// Get retrieves the cached result for the query and parameters.
// Returns (nil, false) on miss. A store failure is treated as a miss:
// the caller falls through to the database, never sees the error.
func (e *Engine) Get(ctx context.Context, query string, params map[string]any) ([]byte, bool) {
	if !e.cfg.Enabled {
		return nil, false
	}

	ctx, span := e.tel.Tracer.StartSpan(ctx, "get")
	start := time.Now()

	key, err := e.keyer.Key(query, params)
	if err != nil {
		e.tel.Tracer.EndSpan(span, err)
		return nil, false
	}
	span.SetAttributes(attribute.String("cache.key", key))

	entry, err := e.loadEntry(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn(ctx, "cache lookup failed, treating as miss",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}
		e.recordLookup(ctx, false, time.Since(start))
		e.tel.Tracer.EndSpan(span, nil)
		return nil, false
	}

	now := time.Now()
	if entry.Expired(now) {
		// Lazy expiry for stores that outlived the envelope TTL.
		_, _ = e.store.Delete(ctx, key)
		e.recordLookup(ctx, false, time.Since(start))
		e.tel.Tracer.EndSpan(span, nil)
		return nil, false
	}

	entry.Touch(now)
	e.writeBackMetadata(ctx, key, entry, now)

	e.recordLookup(ctx, true, time.Since(start))
	e.tel.Tracer.EndSpan(span, nil)
	return entry.Value, true
}

// Set caches a query result. Returns false when the admission policy
// rejects the pair or any part of the write fails; failures are logged
// and never propagated.
func (e *Engine) Set(ctx context.Context, query string, result any, params map[string]any, queryDuration time.Duration, tags []string) bool {
	if !ShouldCache(query, result, e.cfg) {
		return false
	}

	ctx, span := e.tel.Tracer.StartSpan(ctx, "set")
	defer func() { e.tel.Tracer.EndSpan(span, nil) }()

	pattern := NormalizePattern(query)
	e.tracker.TrackPattern(pattern)
	e.tracker.TrackDuration(pattern, queryDuration)
	e.metrics.RecordQueryTime(queryDuration)

	value, err := serializeResult(result)
	if err != nil {
		// Storability is mandatory: refuse to cache what cannot be
		// serialized, unlike the advisory size check.
		e.logger.Warn(ctx, "refusing to cache unserializable result",
			observe.Field{Key: "error", Value: err.Error()},
		)
		e.tel.Metrics.RecordWrite(ctx, false)
		return false
	}

	key, err := e.keyer.Key(query, params)
	if err != nil {
		e.logger.Warn(ctx, "cache key derivation failed",
			observe.Field{Key: "error", Value: err.Error()},
		)
		e.tel.Metrics.RecordWrite(ctx, false)
		return false
	}
	span.SetAttributes(attribute.String("cache.key", key))

	ttl := AdaptiveTTL(query, queryDuration, e.tracker.Frequency(pattern), e.cfg)

	now := time.Now()
	entry := newEntry(key, value, ttl, queryDuration, tags, now)
	data, err := json.Marshal(entry)
	if err != nil {
		e.tel.Metrics.RecordWrite(ctx, false)
		return false
	}

	// Re-caching the same query+params must not double-count the size.
	_, getErr := e.store.Get(ctx, key)
	existed := getErr == nil

	if err := e.store.Set(ctx, key, data, ttl); err != nil {
		e.logger.Warn(ctx, "cache write failed, result not cached",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()},
		)
		e.tel.Metrics.RecordWrite(ctx, false)
		return false
	}

	for _, tag := range tags {
		e.addTagMember(ctx, tag, key)
	}

	if !existed {
		e.metrics.AdjustCacheSize(1)
	}
	e.tel.Metrics.RecordWrite(ctx, true)

	if e.metrics.CacheSize() > int64(e.cfg.MaxCacheSize) {
		if err := e.evictor.evict(ctx); err != nil {
			e.logger.Warn(ctx, "eviction pass failed",
				observe.Field{Key: "strategy", Value: e.cfg.Strategy.String()},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	return true
}

// InvalidateByTag removes every entry that was written with the given
// tag, plus the tag index itself. Returns the number of entries removed.
func (e *Engine) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	ctx, span := e.tel.Tracer.StartSpan(ctx, "invalidate_tag",
		attribute.String("cache.tag", tag))

	keys, err := e.tagMembers(ctx, tag)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.tel.Tracer.EndSpan(span, nil)
			return 0, nil
		}
		e.tel.Tracer.EndSpan(span, err)
		return 0, fmt.Errorf("cache: invalidate tag %q: %w", tag, err)
	}

	removed, err := e.store.Delete(ctx, keys...)
	_, _ = e.store.Delete(ctx, e.keys.tagKey(tag))

	e.metrics.AddEvictions(removed)
	e.metrics.AdjustCacheSize(-removed)
	e.tel.Metrics.RecordEviction(ctx, "tag", removed)

	if err != nil {
		e.tel.Tracer.EndSpan(span, err)
		return int(removed), fmt.Errorf("cache: invalidate tag %q: %w", tag, err)
	}
	e.tel.Tracer.EndSpan(span, nil)
	return int(removed), nil
}

// InvalidatePattern removes every entry whose key matches the glob
// under the cache prefix. Returns the number of entries removed.
func (e *Engine) InvalidatePattern(ctx context.Context, glob string) (int, error) {
	ctx, span := e.tel.Tracer.StartSpan(ctx, "invalidate_pattern",
		attribute.String("cache.pattern", glob))

	keys, err := e.store.Scan(ctx, e.keys.globPattern(glob))
	if err != nil {
		e.tel.Tracer.EndSpan(span, err)
		return 0, fmt.Errorf("cache: invalidate pattern %q: %w", glob, err)
	}

	entryKeys := keys[:0]
	for _, key := range keys {
		if !e.keys.isTagKey(key) {
			entryKeys = append(entryKeys, key)
		}
	}

	removed, err := e.store.Delete(ctx, entryKeys...)
	e.metrics.AdjustCacheSize(-removed)

	if err != nil {
		e.tel.Tracer.EndSpan(span, err)
		return int(removed), fmt.Errorf("cache: invalidate pattern %q: %w", glob, err)
	}
	e.tel.Tracer.EndSpan(span, nil)
	return int(removed), nil
}

// Clear removes every key under the cache prefix, entries and tag
// indexes alike, and resets the tracked size. Returns the number of
// entries (not index keys) removed.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	ctx, span := e.tel.Tracer.StartSpan(ctx, "clear")

	keys, err := e.store.Scan(ctx, e.keys.entryPattern())
	if err != nil {
		e.tel.Tracer.EndSpan(span, err)
		return 0, fmt.Errorf("cache: clear: %w", err)
	}

	entries := 0
	for _, key := range keys {
		if !e.keys.isTagKey(key) {
			entries++
		}
	}

	if _, err := e.store.Delete(ctx, keys...); err != nil {
		e.tel.Tracer.EndSpan(span, err)
		return 0, fmt.Errorf("cache: clear: %w", err)
	}

	e.metrics.SetCacheSize(0)
	e.tel.Tracer.EndSpan(span, nil)
	return entries, nil
}

// Metrics returns a point-in-time snapshot of the engine's counters and
// the tracker's pattern summaries.
func (e *Engine) Metrics() MetricsSnapshot {
	snap := e.metrics.Snapshot()
	snap.TopPatterns = e.tracker.TopPatterns(patternSummaryLimit)
	snap.AvgDurations = e.tracker.AvgDurations(patternSummaryLimit)
	return snap
}

// loadEntry fetches and decodes an envelope. A corrupt envelope is
// deleted and reported as a miss.
func (e *Engine) loadEntry(ctx context.Context, key string) (*Entry, error) {
	data, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		_, _ = e.store.Delete(ctx, key)
		return nil, fmt.Errorf("cache: corrupt entry %q: %w", key, store.ErrNotFound)
	}
	return &entry, nil
}

// writeBackMetadata persists updated access metadata with the entry's
// remaining TTL. Best effort: a failure costs accuracy of the LRU
// ordering, not correctness.
func (e *Engine) writeBackMetadata(ctx context.Context, key string, entry *Entry, now time.Time) {
	remaining := entry.RemainingTTL(now)
	if remaining <= 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, key, data, remaining); err != nil {
		e.logger.Debug(ctx, "access metadata write-back failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}
}

func (e *Engine) recordLookup(ctx context.Context, hit bool, elapsed time.Duration) {
	if hit {
		e.metrics.RecordHit(elapsed)
	} else {
		e.metrics.RecordMiss()
	}
	e.tel.Metrics.RecordLookup(ctx, hit, elapsed)
}

// tagMembers returns the entry keys recorded under the tag index.
func (e *Engine) tagMembers(ctx context.Context, tag string) ([]string, error) {
	data, err := e.store.Get(ctx, e.keys.tagKey(tag))
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("cache: corrupt tag index %q: %w", tag, err)
	}
	return keys, nil
}

// addTagMember adds key to the tag's index. The index carries no TTL so
// it outlives its members; InvalidateByTag removes it explicitly.
// Concurrent writers may lose members to last-write-wins, the same
// staleness tradeoff the rest of the engine accepts.
func (e *Engine) addTagMember(ctx context.Context, tag, key string) {
	members, err := e.tagMembers(ctx, tag)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn(ctx, "tag index read failed",
			observe.Field{Key: "tag", Value: tag},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	for _, member := range members {
		if member == key {
			return
		}
	}
	members = append(members, key)

	data, err := json.Marshal(members)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, e.keys.tagKey(tag), data, 0); err != nil {
		e.logger.Warn(ctx, "tag index write failed",
			observe.Field{Key: "tag", Value: tag},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}
}

// serializeResult converts a result into the stored value bytes.
// Pre-serialized byte slices pass through untouched; everything else is
// JSON encoded.
func serializeResult(result any) ([]byte, error) {
	switch v := result.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(result)
	}
}
