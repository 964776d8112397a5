// Package coalesce merges concurrent calls for the same key into a single
// execution. At most one in-flight call exists per key; every concurrent
// caller observes the same result or the same error.
package coalesce

import (
	"context"
	"sync"
)

// Group coalesces concurrent function calls per key. The zero value is ready
// to use.
//
// The first caller for a key becomes the leader and runs fn. Followers wait
// for the shared result. Publishing happens-before the done channel closes,
// so reads after the wait observe the final values. A follower's context
// cancellation releases only that follower; the leader's fn keeps running.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn exactly once for key among all concurrent callers. When the
// call settles, the key is deregistered so a later Do starts a fresh call.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	// Leader for this key.
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	v, err := fn()

	c.val, c.err = v, err
	close(c.done)

	g.mu.Lock()
	// Only deregister our own call; Forget may have replaced it.
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	return v, err
}

// Forget drops the in-flight marker for key, if any. Waiting followers still
// receive the original result, but the next Do starts a new call.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// Len returns the number of keys currently in flight.
func (g *Group[K, V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
