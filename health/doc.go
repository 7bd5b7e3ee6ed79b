// Package health provides health checking for the query cache and its
// backing store.
//
// A Checker is any component that can report its health status. The
// Status type represents the health state: Healthy, Degraded, or
// Unhealthy.
//
// # Checking the backing store
//
//	checker := health.NewStoreChecker(redisStore)
//	result := checker.Check(ctx)
//	if result.Status == health.StatusUnhealthy {
//	    log.Printf("store unreachable: %s", result.Message)
//	}
//
// # Checking cache effectiveness
//
// EngineChecker reports Degraded when the observed hit rate falls below
// a threshold, which usually means the TTL policy or the admission
// policy needs attention:
//
//	checker := health.NewEngineChecker(engine.Metrics, health.EngineCheckerConfig{
//	    MinHitRate: 0.2,
//	})
//
// # Aggregating
//
// Use Aggregator to combine the store and engine checks into a single
// composite check:
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewStoreChecker(st))
//	agg.Register("cache", health.NewEngineChecker(engine.Metrics, cfg))
//
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
package health
