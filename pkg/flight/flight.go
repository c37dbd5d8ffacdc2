// Package flight coalesces concurrent calls for the same key and keeps
// successful results for a while afterwards.
package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// Cache runs work at most once per key at a time. Completed values are held
// strongly until their expiry and weakly after that, so the garbage collector
// decides when an expired result finally goes. Errors are never cached.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	done    map[K]*result[V]
	running map[K]*call[V]

	work func(context.Context, K) (V, error)
	ttl  atomic.Int64
}

type result[V any] struct {
	weak    weak.Pointer[V]
	strong  *V
	expires time.Time // zero never expires
}

type call[V any] struct {
	val  V
	err  error
	done chan struct{}
}

// NewCache returns a cache that holds results for an hour.
func NewCache[K comparable, V any](work func(context.Context, K) (V, error)) *Cache[K, V] {
	c := &Cache[K, V]{
		done:    make(map[K]*result[V]),
		running: make(map[K]*call[V]),
		work:    work,
	}
	c.ttl.Store(int64(time.Hour))
	return c
}

// Expiry sets how long future results stay strongly held. d <= 0 holds them forever.
func (c *Cache[K, V]) Expiry(d time.Duration) {
	c.ttl.Store(int64(max(d, 0)))
}

// Get returns the cached value for k, joins a call already in flight, or runs
// work. A waiting caller gives up when its own ctx ends.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	c.mu.Lock()
	if v, ok := c.lookup(k); ok {
		c.mu.Unlock()
		return v, nil
	}
	if running, ok := c.running[k]; ok {
		c.mu.Unlock()
		return wait(ctx, running)
	}
	return c.run(ctx, k)
}

// Force runs work for k even when a value is cached, after any call in flight finishes.
func (c *Cache[K, V]) Force(ctx context.Context, k K) (V, error) {
	for {
		c.mu.Lock()
		running, ok := c.running[k]
		if !ok {
			return c.run(ctx, k)
		}
		c.mu.Unlock()
		if _, err := wait(ctx, running); ctx.Err() != nil {
			var zero V
			return zero, err
		}
	}
}

// Forget drops the cached value for k.
func (c *Cache[K, V]) Forget(k K) {
	c.mu.Lock()
	delete(c.done, k)
	c.mu.Unlock()
}

// Len counts cached keys, including weakly held ones that may already be gone.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

// run must be called with mu held; it releases it.
func (c *Cache[K, V]) run(ctx context.Context, k K) (V, error) {
	cl := &call[V]{done: make(chan struct{})}
	c.running[k] = cl
	c.mu.Unlock()

	cl.val, cl.err = c.work(ctx, k)

	c.mu.Lock()
	if cl.err == nil {
		c.store(k, cl.val)
	}
	delete(c.running, k)
	close(cl.done)
	c.mu.Unlock()

	return cl.val, cl.err
}

func wait[V any](ctx context.Context, cl *call[V]) (V, error) {
	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) lookup(k K) (V, bool) {
	r, ok := c.done[k]
	if !ok {
		var zero V
		return zero, false
	}
	if r.strong != nil && !r.expires.IsZero() && time.Now().After(r.expires) {
		r.strong = nil
	}
	if vp := r.weak.Value(); vp != nil {
		return *vp, true
	}
	delete(c.done, k)
	var zero V
	return zero, false
}

func (c *Cache[K, V]) store(k K, val V) {
	v := new(V)
	*v = val
	r := &result[V]{weak: weak.Make(v), strong: v}
	if d := time.Duration(c.ttl.Load()); d > 0 {
		r.expires = time.Now().Add(d)
	}
	c.done[k] = r
}
