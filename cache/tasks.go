package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/querycache/observe"
)

// taskConfig wires the background loops to the evictor.
type taskConfig struct {
	cleanupInterval time.Duration
	metricsInterval time.Duration
	metricsEnabled  bool
	cleanup         func(context.Context) error
	recount         func(context.Context) error
	logger          observe.Logger
}

// TaskManager runs the engine's periodic maintenance loops: a cleanup
// loop that reconciles expired entries, and a metrics loop that keeps
// the tracked cache size fresh.
//
// Contract:
// - Concurrency: Start and Stop are safe to call from multiple
//   goroutines; both are idempotent.
// - Lifecycle: Stop cancels the loops and blocks until they exit.
//   Context cancellation is a normal shutdown signal, not an error.
// - Errors: a failing loop iteration is logged and the loop continues;
//   one bad pass must not kill maintenance for the process lifetime.
type TaskManager struct {
	cfg taskConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

func newTaskManager(cfg taskConfig) *TaskManager {
	if cfg.logger == nil {
		cfg.logger = observe.NopLogger()
	}
	return &TaskManager{cfg: cfg}
}

// Start launches the maintenance loops. Calling Start on a running
// manager is a no-op.
func (tm *TaskManager) Start(ctx context.Context) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return tm.runLoop(ctx, "cleanup", tm.cfg.cleanupInterval, tm.cfg.cleanup)
	})
	if tm.cfg.metricsEnabled {
		group.Go(func() error {
			return tm.runLoop(ctx, "metrics", tm.cfg.metricsInterval, tm.cfg.recount)
		})
	}

	tm.cancel = cancel
	tm.group = group
	tm.running = true
}

// Stop cancels the loops and waits for them to terminate. Calling Stop
// on a stopped manager is a no-op.
func (tm *TaskManager) Stop() {
	tm.mu.Lock()
	if !tm.running {
		tm.mu.Unlock()
		return
	}
	cancel, group := tm.cancel, tm.group
	tm.cancel, tm.group = nil, nil
	tm.running = false
	tm.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		tm.cfg.logger.Warn(context.Background(), "background task exited with error",
			observe.Field{Key: "error", Value: err.Error()},
		)
	}
}

// Running reports whether the maintenance loops are active.
func (tm *TaskManager) Running() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.running
}

func (tm *TaskManager) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				tm.cfg.logger.Warn(ctx, "maintenance pass failed",
					observe.Field{Key: "task", Value: name},
					observe.Field{Key: "error", Value: err.Error()},
				)
			}
		}
	}
}
