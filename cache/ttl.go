package cache

import "time"

const (
	// MinTTL is the hard floor for computed TTLs, preventing
	// pathological near-zero values.
	MinTTL = 30 * time.Second

	// TimeSensitiveMaxTTL caps the TTL of time-sensitive queries to
	// bound staleness regardless of frequency or cost multipliers.
	TimeSensitiveMaxTTL = 60 * time.Second
)

// AdaptiveTTL computes the storage TTL for a query result.
//
// For non-adaptive strategies the configured default TTL is returned
// unchanged. Under StrategyAdaptive the default TTL is multiplied by the
// frequency multiplier when the query's pattern has been seen at least
// FrequentQueryThreshold times, and by the performance multiplier when
// the query took at least SlowQueryThreshold to run. Hot and expensive
// queries therefore compound multiplicatively, shedding the most load
// from the database. Time-sensitive queries are capped at
// TimeSensitiveMaxTTL, and every adaptive TTL is floored at MinTTL.
func AdaptiveTTL(query string, duration time.Duration, patternFrequency int64, cfg Config) time.Duration {
	if cfg.Strategy != StrategyAdaptive {
		return cfg.DefaultTTL
	}

	ttl := float64(cfg.DefaultTTL)
	if patternFrequency >= int64(cfg.FrequentQueryThreshold) {
		ttl *= cfg.FrequentQueryTTLMultiplier
	}
	if duration >= cfg.SlowQueryThreshold {
		ttl *= cfg.SlowQueryTTLMultiplier
	}

	result := time.Duration(ttl)
	if IsTimeSensitive(query) && result > TimeSensitiveMaxTTL {
		result = TimeSensitiveMaxTTL
	}
	if result < MinTTL {
		result = MinTTL
	}
	return result
}
