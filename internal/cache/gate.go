// Package cache memoizes derived content until the store changes.
package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Clock reports the store's change clock.
type Clock interface {
	LastUpdated(ctx context.Context) (int64, error)
}

type entry struct {
	value []byte
	clock int64
}

// Gate holds one computed value per key together with the clock reading
// taken before it was computed. It lives as long as the tree, not the
// per-lookup nodes that use it.
type Gate struct {
	clock Clock

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group
}

// New returns an empty gate reading clock.
func New(clock Clock) *Gate {
	return &Gate{clock: clock, entries: map[string]entry{}}
}

// GetOrCompute returns the cached value for key, calling fn only when no
// value exists or the clock has advanced past the cached reading. Concurrent
// callers for the same key share one call to fn. Errors are not cached.
func (g *Gate) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	v, err, _ := g.group.Do(key, func() (any, error) {
		now, err := g.clock.LastUpdated(ctx)
		if err != nil {
			return nil, fmt.Errorf("read change clock: %w", err)
		}
		g.mu.Lock()
		e, ok := g.entries[key]
		g.mu.Unlock()
		if ok && now <= e.clock {
			return e.value, nil
		}

		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.entries[key] = entry{value: value, clock: now}
		g.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops the entry for key so the next read recomputes.
func (g *Gate) Invalidate(key string) {
	g.mu.Lock()
	delete(g.entries, key)
	g.mu.Unlock()
}

// ComputedAt returns the clock reading of key's cached value.
func (g *Gate) ComputedAt(key string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	return e.clock, ok
}
