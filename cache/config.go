package cache

import (
	"errors"
	"fmt"
	"time"
)

// Strategy selects the eviction strategy. The strategy is fixed at
// construction; there is no runtime transition between strategies.
type Strategy int

const (
	// StrategyLRU evicts the least recently accessed entries when the
	// cache exceeds capacity.
	StrategyLRU Strategy = iota

	// StrategyTTL relies on store-side TTL expiry and only reconciles
	// the tracked entry count against the live key count.
	StrategyTTL

	// StrategyAdaptive assigns frequency- and cost-adjusted TTLs at
	// write time; when over capacity it reconciles expiry first and
	// falls back to an LRU pass.
	StrategyAdaptive
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyLRU:
		return "lru"
	case StrategyTTL:
		return "ttl"
	case StrategyAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "lru":
		return StrategyLRU, nil
	case "ttl":
		return StrategyTTL, nil
	case "adaptive":
		return StrategyAdaptive, nil
	default:
		return 0, fmt.Errorf("cache: unknown strategy %q", s)
	}
}

// Configuration errors.
var (
	ErrInvalidTTL        = errors.New("cache: default TTL must be positive")
	ErrInvalidCacheSize  = errors.New("cache: max cache size must be positive")
	ErrInvalidPrefix     = errors.New("cache: prefix is required")
	ErrInvalidThreshold  = errors.New("cache: frequent query threshold must be positive")
	ErrInvalidMultiplier = errors.New("cache: TTL multipliers must be at least 1.0")
)

// Config configures the cache engine. It is a plain struct filled by the
// embedding service; this package performs no configuration loading.
type Config struct {
	// Enabled toggles the whole engine. When false, Get always misses
	// and Set never admits.
	Enabled bool

	// DefaultTTL is the base TTL for cached entries.
	DefaultTTL time.Duration

	// MaxCacheSize is the capacity limit in entries.
	MaxCacheSize int

	// Strategy selects the eviction strategy.
	Strategy Strategy

	// Prefix namespaces every key this engine writes to the store.
	Prefix string

	// MetricsEnabled enables the background metrics reconciliation loop.
	MetricsEnabled bool

	// FrequentQueryThreshold is the pattern frequency at or above which
	// the frequency TTL multiplier applies.
	FrequentQueryThreshold int

	// FrequentQueryTTLMultiplier extends TTL for frequent patterns.
	FrequentQueryTTLMultiplier float64

	// SlowQueryThreshold is the query duration at or above which the
	// performance TTL multiplier applies.
	SlowQueryThreshold time.Duration

	// SlowQueryTTLMultiplier extends TTL for expensive queries.
	SlowQueryTTLMultiplier float64

	// MaxResultSize is the advisory serialized-size limit for results.
	// Default: 1_000_000 bytes.
	MaxResultSize int

	// CleanupInterval is the period of the background cleanup loop.
	// Default: 5 minutes.
	CleanupInterval time.Duration

	// MetricsInterval is the period of the background metrics loop.
	// Default: 1 minute.
	MetricsInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		DefaultTTL:                 5 * time.Minute,
		MaxCacheSize:               1000,
		Strategy:                   StrategyAdaptive,
		Prefix:                     "querycache:",
		MetricsEnabled:             true,
		FrequentQueryThreshold:     5,
		FrequentQueryTTLMultiplier: 2.0,
		SlowQueryThreshold:         time.Second,
		SlowQueryTTLMultiplier:     1.5,
		MaxResultSize:              DefaultMaxResultSize,
		CleanupInterval:            5 * time.Minute,
		MetricsInterval:            time.Minute,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return ErrInvalidTTL
	}
	if c.MaxCacheSize <= 0 {
		return ErrInvalidCacheSize
	}
	if c.Prefix == "" {
		return ErrInvalidPrefix
	}
	if c.FrequentQueryThreshold <= 0 {
		return ErrInvalidThreshold
	}
	if c.FrequentQueryTTLMultiplier < 1.0 || c.SlowQueryTTLMultiplier < 1.0 {
		return ErrInvalidMultiplier
	}
	return nil
}

// withDefaults fills zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.MaxResultSize <= 0 {
		c.MaxResultSize = DefaultMaxResultSize
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = time.Minute
	}
	return c
}
