package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/cache"
)

// EngineCheckerConfig configures the cache effectiveness checker.
type EngineCheckerConfig struct {
	// MinHitRate is the hit rate below which the cache is Degraded.
	// Value should be between 0 and 1. Default: 0.1
	MinHitRate float64

	// MinQueries is the lookup volume required before the hit rate is
	// judged at all; a cold cache is Healthy, not Degraded.
	// Default: 100
	MinQueries int64
}

// EngineChecker reports on cache effectiveness.
//
// An unreachable store makes the engine miss, not fail, so the engine
// itself is never Unhealthy; a persistently low hit rate is surfaced as
// Degraded because it means the cache is burning store round trips
// without sheltering the database.
type EngineChecker struct {
	stats  func() cache.MetricsSnapshot
	config EngineCheckerConfig
}

// NewEngineChecker creates a checker over the engine's metrics snapshot
// function, typically engine.Metrics.
func NewEngineChecker(stats func() cache.MetricsSnapshot, config ...EngineCheckerConfig) *EngineChecker {
	cfg := EngineCheckerConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MinHitRate <= 0 || cfg.MinHitRate >= 1 {
		cfg.MinHitRate = 0.1
	}
	if cfg.MinQueries <= 0 {
		cfg.MinQueries = 100
	}
	return &EngineChecker{stats: stats, config: cfg}
}

// Name returns the name of this checker.
func (c *EngineChecker) Name() string {
	return "cache"
}

// Check evaluates the cache hit rate.
func (c *EngineChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	snap := c.stats()
	details := map[string]any{
		"hit_rate":      snap.HitRate,
		"total_queries": snap.TotalQueries,
		"cache_size":    snap.CacheSize,
		"evictions":     snap.Evictions,
	}

	if snap.TotalQueries < c.config.MinQueries {
		return Healthy("warming up").WithDetails(details)
	}
	if snap.HitRate < c.config.MinHitRate {
		return Degraded(fmt.Sprintf("hit rate %.2f below %.2f", snap.HitRate, c.config.MinHitRate)).
			WithDetails(details)
	}
	return Healthy(fmt.Sprintf("hit rate %.2f", snap.HitRate)).WithDetails(details)
}
