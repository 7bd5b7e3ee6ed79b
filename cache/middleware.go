package cache

import (
	"context"
	"time"
)

// QueryFunc executes the underlying database query and returns the raw
// result bytes.
type QueryFunc func(ctx context.Context) ([]byte, error)

// Middleware wraps an Engine with read-through semantics so callers
// never sequence lookups and writes by hand.
type Middleware struct {
	engine *Engine
}

// NewMiddleware creates a read-through wrapper over the engine.
func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{engine: engine}
}

// Execute serves the query from cache when possible. On a miss it runs
// the query, measures its duration, and offers the result to the cache
// before returning it. The bool reports whether the result came from
// cache. Query errors are returned as-is and never cached.
func (m *Middleware) Execute(ctx context.Context, query string, params map[string]any, tags []string, run QueryFunc) ([]byte, bool, error) {
	if cached, ok := m.engine.Get(ctx, query, params); ok {
		return cached, true, nil
	}

	start := time.Now()
	result, err := run(ctx)
	if err != nil {
		return nil, false, err
	}
	duration := time.Since(start)

	m.engine.Set(ctx, query, result, params, duration, tags)
	return result, false, nil
}
