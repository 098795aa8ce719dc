// Package cache provides per-process caches whose invalidations are broadcast
// to every process of the deployment over a pubsub.Bus.
//
// Two variants share the Cache interface: LRU (bounded by count and by
// calculated size, optional per-entry TTL) and TTL (expiry only, unbounded
// count). Both subscribe to "<name>:<kind>:del" and "<name>:<kind>:reset" at
// construction. Del and Reset publish on those channels and apply locally, so
// the caller sees its own invalidation without waiting for the bus.
//
// Facades never return errors. A disabled facade stores nothing and misses on
// every read; Del and Reset still broadcast because invalidating is always
// safe.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

// Store kinds, used as the middle segment of invalidation channels.
const (
	KindLRU = "lruCache"
	KindTTL = "ttlCache"
)

// Cache is the surface shared by every facade variant.
type Cache[V any] interface {
	Name() string
	Kind() string

	Enabled() bool
	SetEnabled(bool)

	// Get counts a hit or a miss unless the cache is disabled.
	Get(key string) (V, bool)
	// Set stores value. ttl 0 selects the cache default; ttl < 0 never expires.
	Set(key string, value V, ttl time.Duration)
	// Del evicts keys here and broadcasts the eviction.
	Del(keys ...string)
	Delete(keys ...string)
	// Reset drops every entry and zeroes the counters here and everywhere.
	Reset()
	Clear()

	// GetUnCachedKeys returns the keys not in the cache, in input order, and
	// writes every cached value into out under its key. Each key counts once
	// as a hit or a miss.
	GetUnCachedKeys(keys []string, out map[string]V) []string

	// Dump and Peek never touch recency or the counters.
	Dump() []Entry[V]
	Peek(key string) (V, bool)

	Hits() uint64
	Misses() uint64

	// Length and CalculatedSize are the total calculated size.
	Length() int64
	CalculatedSize() int64
	// Max is the entry limit (0 = unbounded); MaxSize the size limit.
	Max() int
	MaxSize() int64
	// ItemCount and Size are the number of stored entries.
	ItemCount() int
	Size() int
	TTL() time.Duration
}

// Entry is one cached value as reported by Dump.
type Entry[V any] struct {
	Key       string
	Value     V
	Size      int64
	ExpiresAt time.Time // zero when the entry never expires
}

// core holds what both variants share: identity, the enabled flag, the
// counters and the bus binding.
type core struct {
	name    string
	kind    string
	enabled atomic.Bool
	hits    atomic.Uint64
	misses  atomic.Uint64

	log   log.Logger
	hooks hooks.Hooks
	bind  *binder
}

func (c *core) setup(name, kind string, disabled bool, bus pubsub.Bus, l log.Logger, h hooks.Hooks) {
	c.name = name
	c.kind = kind
	c.enabled.Store(!disabled)
	c.log = log.With(log.OrNop(l), log.Fields{"cache": name, "kind": kind})
	c.hooks = hooks.OrNop(h)
	if bus == nil {
		bus = pubsub.Default()
	}
	c.bind = &binder{bus: bus, name: name, kind: kind, log: c.log}
}

func (c *core) Name() string       { return c.name }
func (c *core) Kind() string       { return c.kind }
func (c *core) Enabled() bool      { return c.enabled.Load() }
func (c *core) SetEnabled(on bool) { c.enabled.Store(on) }
func (c *core) Hits() uint64       { return c.hits.Load() }
func (c *core) Misses() uint64     { return c.misses.Load() }

func (c *core) count(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *core) zeroCounters() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// unCached implements GetUnCachedKeys over a non-counting lookup.
func unCached[V any](c *core, lookup func(string) (V, bool), keys []string, out map[string]V) []string {
	if !c.Enabled() {
		return append([]string(nil), keys...)
	}
	missing := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := lookup(k); ok {
			if out != nil {
				out[k] = v
			}
			c.hits.Add(1)
			continue
		}
		c.misses.Add(1)
		missing = append(missing, k)
	}
	return missing
}
