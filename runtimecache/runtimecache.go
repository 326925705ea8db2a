// Package runtimecache pools compiled agent graphs across concurrent
// requests to the same agent_id. An entry is pinned (ref_count > 0) for as
// long as at least one caller holds a Lease on it; unpinned entries are
// evicted in least-recently-used order once the cache is over its
// configured entry cap, and pruned outright once their TTL has elapsed.
//
// Per-key build/rebuild serialization is built on
// golang.org/x/sync/singleflight (already an indirect dependency of the
// graph engine, promoted to direct here) rather than a hand-rolled
// in-flight map: it is the idiomatic primitive for "only one build per key
// runs at a time, everyone else waits for its result".
package runtimecache

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by operations that require an existing entry.
var ErrNotFound = errors.New("runtimecache: entry not found")

// ErrNoRebuildFunc is returned by Invalidate when the entry was seeded
// without a rebuild_fn.
var ErrNoRebuildFunc = errors.New("runtimecache: entry has no rebuild_fn")

// RebuildFunc constructs a fresh handle for an agent_id, e.g. by calling
// agentgraph.Build with that agent's current config.
type RebuildFunc[H any] func(ctx context.Context) (H, error)

// Metrics receives the cache's operational counters. graph.PrometheusMetrics
// satisfies it; the cache stays decoupled from the graph package by
// accepting the interface.
type Metrics interface {
	SetCacheEntries(n int)
	IncrementCacheEvictions(reason string)
	IncrementCacheRebuilds(status string)
}

// entry is a cache row. Once superseded (by Invalidate's swap) an entry is
// unlinked from the cache's map but stays alive, referenced only by the
// Leases that acquired it before the swap; the last Release against it
// disposes its handle.
type entry[H any] struct {
	key        string
	handle     H
	cfgVersion int
	rebuildFn  RebuildFunc[H]
	expiresAt  time.Time // zero means never expires
	refCount   int
	lastAccess time.Time
	superseded bool
}

// Lease is the scoped handle returned by Acquire and GetOrBuild. Callers
// are expected to `defer lease.Release()` immediately after a successful
// acquire, so that a panic in node code still releases the handle.
type Lease[H any] struct {
	cache  *Cache[H]
	e      *entry[H]
	handle H
	closed bool
}

// Handle returns the leased compiled_graph_handle.
func (l *Lease[H]) Handle() H {
	return l.handle
}

// Release decrements the entry's ref_count. Safe to call more than once or
// on a nil Lease; only the first call has an effect.
func (l *Lease[H]) Release() {
	if l == nil || l.closed {
		return
	}
	l.closed = true
	l.cache.releaseEntry(l.e)
}

// Cache is a reference-counted, TTL-aware pool of handles keyed by
// agent_id. The zero value is not usable; construct with NewCache.
type Cache[H any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[H]
	maxEntries int
	dispose    func(H)
	group      singleflight.Group
	now        func() time.Time
	warn       func(string, ...interface{})
	metrics    Metrics
}

// SetMetrics attaches a metrics sink. Call before the cache is shared
// across goroutines; a nil sink (the default) records nothing.
func (c *Cache[H]) SetMetrics(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
	c.reportLenLocked()
}

func (c *Cache[H]) reportLenLocked() {
	if c.metrics != nil {
		c.metrics.SetCacheEntries(len(c.entries))
	}
}

func (c *Cache[H]) countEviction(reason string) {
	if c.metrics != nil {
		c.metrics.IncrementCacheEvictions(reason)
	}
}

func (c *Cache[H]) countRebuild(err error) {
	c.mu.Lock()
	m := c.metrics
	c.mu.Unlock()
	if m == nil {
		return
	}
	if err != nil {
		m.IncrementCacheRebuilds("error")
	} else {
		m.IncrementCacheRebuilds("success")
	}
}

// NewCache returns an empty Cache bounded to maxEntries unpinned-eviction
// capacity. dispose, if non-nil, is called exactly once for every handle
// that leaves the cache with ref_count == 0 (eviction, expiry, or being
// superseded by Invalidate) — e.g. to close a *graph.Engine's underlying
// store connection.
func NewCache[H any](maxEntries int, dispose func(H)) *Cache[H] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache[H]{
		entries:    make(map[string]*entry[H]),
		maxEntries: maxEntries,
		dispose:    dispose,
		now:        time.Now,
		warn:       func(string, ...interface{}) {},
	}
}

// Acquire returns a Lease for agentID iff a fresh (unexpired) entry exists,
// incrementing its ref_count and touching last_access. The second return
// value is false on a miss; callers on a miss are expected to build a
// handle and call Seed, or use GetOrBuild to do both atomically.
func (c *Cache[H]) Acquire(agentID string) (*Lease[H], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpiredLocked()

	e, ok := c.entries[agentID]
	if !ok {
		return nil, false
	}
	e.refCount++
	e.lastAccess = c.now()
	return &Lease[H]{cache: c, e: e, handle: e.handle}, true
}

// GetOrBuild acquires agentID, building and seeding a fresh handle on a
// miss. Concurrent misses for the same agentID collapse onto a single
// build call via singleflight; every caller still receives its own Lease
// against the (shared) resulting handle.
func (c *Cache[H]) GetOrBuild(ctx context.Context, agentID string, cfgVersion int, ttl time.Duration, build RebuildFunc[H]) (*Lease[H], error) {
	if lease, ok := c.Acquire(agentID); ok {
		return lease, nil
	}

	v, err, _ := c.group.Do(agentID, func() (interface{}, error) {
		return build(ctx)
	})
	c.countRebuild(err)
	if err != nil {
		return nil, fmt.Errorf("runtimecache: build %q: %w", agentID, err)
	}

	c.Seed(agentID, cfgVersion, v.(H), build, ttl)

	lease, ok := c.Acquire(agentID)
	if !ok {
		return nil, fmt.Errorf("runtimecache: build %q: %w", agentID, ErrNotFound)
	}
	return lease, nil
}

// Seed inserts a fresh entry, or — if one already exists for agentID at the
// same cfgVersion and not expired — only extends its expiry and rebinds
// rebuild_fn (the refresh half of the seed contract). A seed at
// a different cfgVersion replaces the entry outright (the old handle is
// disposed once its own ref_count, tracked independently via any Leases
// already issued against it, drains to zero).
func (c *Cache[H]) Seed(agentID string, cfgVersion int, handle H, rebuildFn RebuildFunc[H], ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	if e, ok := c.entries[agentID]; ok && e.cfgVersion == cfgVersion && !c.expiredLocked(e, now) {
		e.rebuildFn = rebuildFn
		e.expiresAt = expires
		return
	}

	if old, ok := c.entries[agentID]; ok {
		old.superseded = true
		c.countEviction("superseded")
		if old.refCount == 0 && c.dispose != nil {
			c.dispose(old.handle)
		}
	}

	c.entries[agentID] = &entry[H]{
		key:        agentID,
		handle:     handle,
		cfgVersion: cfgVersion,
		rebuildFn:  rebuildFn,
		expiresAt:  expires,
		lastAccess: now,
	}
	c.evictLocked()
	c.reportLenLocked()
}

// Invalidate rebuilds agentID's handle via its stored rebuild_fn. On
// success the new handle atomically replaces the old one for future
// Acquire calls; in-flight acquirers keep using the old handle until they
// Release it, at which point it is disposed. On rebuild failure the stale
// entry is marked for eviction (disposed immediately if already unpinned)
// and the error is surfaced to the caller.
func (c *Cache[H]) Invalidate(ctx context.Context, agentID string, cfgVersion int) error {
	c.mu.Lock()
	e, ok := c.entries[agentID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("runtimecache: invalidate %q: %w", agentID, ErrNotFound)
	}
	rebuildFn := e.rebuildFn
	c.mu.Unlock()

	if rebuildFn == nil {
		return fmt.Errorf("runtimecache: invalidate %q: %w", agentID, ErrNoRebuildFunc)
	}

	// The "invalidate:" prefix deliberately keeps this rebuild on a
	// different singleflight key than GetOrBuild's first-build: a caller
	// invalidating to a NEW cfg_version must not be handed the result of a
	// concurrent miss-build still compiling the OLD config. The two paths
	// serialize against each other through the cache mutex when they swap
	// their results in, not through a shared flight.
	v, err, _ := c.group.Do("invalidate:"+agentID, func() (interface{}, error) {
		return rebuildFn(ctx)
	})
	c.countRebuild(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[agentID]
	if !ok {
		if err != nil {
			return fmt.Errorf("runtimecache: rebuild %q: %w", agentID, err)
		}
		return nil
	}

	if err != nil {
		cur.superseded = true
		c.countEviction("superseded")
		if cur.refCount == 0 {
			delete(c.entries, agentID)
			if c.dispose != nil {
				c.dispose(cur.handle)
			}
		}
		c.reportLenLocked()
		return fmt.Errorf("runtimecache: rebuild %q: %w", agentID, err)
	}

	cur.superseded = true
	c.countEviction("superseded")
	if cur.refCount == 0 && c.dispose != nil {
		c.dispose(cur.handle)
	}

	c.entries[agentID] = &entry[H]{
		key:        agentID,
		handle:     v.(H),
		cfgVersion: cfgVersion,
		rebuildFn:  rebuildFn,
		expiresAt:  cur.expiresAt,
		lastAccess: c.now(),
	}
	c.evictLocked()
	c.reportLenLocked()
	return nil
}

// releaseEntry decrements e's ref_count directly, independent of whatever
// entry currently sits in the map under e.key — this is what lets a
// superseded entry's last Lease dispose it correctly even after Invalidate
// has already swapped the map slot to a newer entry: in-flight acquirers
// keep their old handle until release, and no handle is ever leaked.
func (c *Cache[H]) releaseEntry(e *entry[H]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount != 0 {
		return
	}
	if e.superseded || c.expiredLocked(e, c.now()) {
		if cur, ok := c.entries[e.key]; ok && cur == e {
			delete(c.entries, e.key)
			if !e.superseded {
				c.countEviction("expired")
			}
		}
		if c.dispose != nil {
			c.dispose(e.handle)
		}
		c.reportLenLocked()
	}
}

func (c *Cache[H]) expiredLocked(e *entry[H], now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// pruneExpiredLocked drops every unpinned, expired entry. Called on every
// Acquire so expired entries with ref_count == 0 are pruned on each
// operation.
func (c *Cache[H]) pruneExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if e.refCount == 0 && c.expiredLocked(e, now) {
			delete(c.entries, key)
			c.countEviction("expired")
			if c.dispose != nil {
				c.dispose(e.handle)
			}
		}
	}
	c.reportLenLocked()
}

// unpinnedHeap orders unpinned entries by last_access for LRU eviction
// (container/heap keyed by an order field, rebuilt from a fresh candidate
// slice rather than maintained incrementally, since eviction is the rare
// path and the entries map is already the single source of truth).
type unpinnedHeap[H any] []*entry[H]

func (h unpinnedHeap[H]) Len() int            { return len(h) }
func (h unpinnedHeap[H]) Less(i, j int) bool  { return h[i].lastAccess.Before(h[j].lastAccess) }
func (h unpinnedHeap[H]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *unpinnedHeap[H]) Push(x interface{}) { *h = append(*h, x.(*entry[H])) }
func (h *unpinnedHeap[H]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// evictLocked prunes expired entries, then — if still over maxEntries —
// evicts unpinned entries in least-recently-used order. Pinned entries are
// never evicted even over capacity; if capacity cannot be restored a
// warning is logged rather than forcing an eviction of an in-use entry.
func (c *Cache[H]) evictLocked() {
	c.pruneExpiredLocked()
	if len(c.entries) <= c.maxEntries {
		return
	}

	var candidates unpinnedHeap[H]
	for _, e := range c.entries {
		if e.refCount == 0 {
			candidates = append(candidates, e)
		}
	}
	heap.Init(&candidates)

	for len(c.entries) > c.maxEntries && candidates.Len() > 0 {
		victim := heap.Pop(&candidates).(*entry[H])
		delete(c.entries, victim.key)
		c.countEviction("lru")
		if c.dispose != nil {
			c.dispose(victim.handle)
		}
	}

	if len(c.entries) > c.maxEntries {
		c.warn("runtimecache: over max_entries=%d with all remaining entries pinned", c.maxEntries)
	}
}

// Len reports the current entry count, pinned and unpinned combined.
// Exposed for tests and metrics export.
func (c *Cache[H]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
