package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/querycache/store"
)

// Pinger is implemented by stores with a native connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheckerConfig configures the backing store checker.
type StoreCheckerConfig struct {
	// ProbeKey is the key used for the write/read/delete probe cycle.
	// Default: "querycache:health!probe"
	ProbeKey string

	// LatencyWarn marks the check Degraded when the probe takes longer.
	// Default: 250ms
	LatencyWarn time.Duration
}

// StoreChecker verifies the backing store is reachable and serving.
//
// Stores that implement Pinger are pinged. Every store additionally gets
// a full probe cycle: a short-lived write, a read back, and a delete.
// The cycle exercises the same operations the cache engine depends on,
// so a passing check means the cache can actually serve traffic.
type StoreChecker struct {
	store  store.Store
	config StoreCheckerConfig
}

// NewStoreChecker creates a checker over the given backing store.
func NewStoreChecker(st store.Store, config ...StoreCheckerConfig) *StoreChecker {
	cfg := StoreCheckerConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.ProbeKey == "" {
		cfg.ProbeKey = "querycache:health!probe"
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = 250 * time.Millisecond
	}
	return &StoreChecker{store: st, config: cfg}
}

// Name returns the name of this checker.
func (c *StoreChecker) Name() string {
	return "store"
}

// Check performs the store health check.
func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if p, ok := c.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return Unhealthy("store ping failed", fmt.Errorf("%w: %v", ErrCheckFailed, err)).
				WithDuration(time.Since(start))
		}
	}

	probe := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := c.store.Set(ctx, c.config.ProbeKey, probe, time.Minute); err != nil {
		return Unhealthy("probe write failed", fmt.Errorf("%w: %v", ErrCheckFailed, err)).
			WithDuration(time.Since(start))
	}
	got, err := c.store.Get(ctx, c.config.ProbeKey)
	if err != nil {
		return Unhealthy("probe read failed", fmt.Errorf("%w: %v", ErrCheckFailed, err)).
			WithDuration(time.Since(start))
	}
	if string(got) != string(probe) {
		return Unhealthy("probe read returned stale data", ErrCheckFailed).
			WithDuration(time.Since(start))
	}
	if _, err := c.store.Delete(ctx, c.config.ProbeKey); err != nil {
		return Unhealthy("probe delete failed", fmt.Errorf("%w: %v", ErrCheckFailed, err)).
			WithDuration(time.Since(start))
	}

	elapsed := time.Since(start)
	details := map[string]any{"probe_latency": elapsed.String()}

	if elapsed > c.config.LatencyWarn {
		return Degraded(fmt.Sprintf("probe latency %v exceeds %v", elapsed, c.config.LatencyWarn)).
			WithDetails(details).
			WithDuration(elapsed)
	}
	return Healthy("store reachable").WithDetails(details).WithDuration(elapsed)
}
