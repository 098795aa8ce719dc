package cache

import (
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

// LRUOptions configure NewLRU.
type LRUOptions[V any] struct {
	Name string

	// Max bounds the number of entries. 0 leaves the count unbounded.
	Max int
	// MaxSize bounds the sum of SizeFunc over all entries. 0 disables it.
	MaxSize int64
	// SizeFunc computes an entry's size. nil counts every entry as 1.
	SizeFunc func(V) int64
	// TTL is the default entry lifetime. 0 keeps entries until evicted.
	TTL time.Duration
	// AllowStale lets Get return an expired value once before dropping it.
	AllowStale bool

	Disabled bool

	// Deprecated: use SizeFunc.
	Length func(V) int64
	// Deprecated: use TTL.
	MaxAge time.Duration
	// Deprecated: use AllowStale.
	Stale bool

	Bus    pubsub.Bus // nil => pubsub.Default()
	Logger log.Logger
	Hooks  hooks.Hooks
}

// Warning describes one deprecated option rewritten by normalization.
type Warning struct {
	Option      string
	Replacement string
}

func (w Warning) String() string {
	return "option " + w.Option + " is deprecated, use " + w.Replacement
}

// NormalizeLRU maps deprecated options onto their replacements. A deprecated
// option only applies when its replacement is unset. The input is not
// modified.
func NormalizeLRU[V any](o LRUOptions[V]) (LRUOptions[V], []Warning) {
	var warns []Warning
	if o.Length != nil {
		warns = append(warns, Warning{"Length", "SizeFunc"})
		if o.SizeFunc == nil {
			o.SizeFunc = o.Length
		}
		o.Length = nil
	}
	if o.MaxAge != 0 {
		warns = append(warns, Warning{"MaxAge", "TTL"})
		if o.TTL == 0 {
			o.TTL = o.MaxAge
		}
		o.MaxAge = 0
	}
	if o.Stale {
		warns = append(warns, Warning{"Stale", "AllowStale"})
		o.AllowStale = true
		o.Stale = false
	}
	if o.Name == "" {
		o.Name = "lru"
	}
	return o, warns
}

type lruEntry[V any] struct {
	value     V
	size      int64
	expiresAt time.Time
}

func (e *lruEntry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LRU is the bounded variant: at most Max entries and at most MaxSize total
// size, least recently used evicted first, with optional per-entry expiry.
type LRU[V any] struct {
	core

	mu         sync.Mutex
	lru        *simplelru.LRU[string, *lruEntry[V]]
	total      int64
	max        int
	maxSize    int64
	sizeOf     func(V) int64
	ttl        time.Duration
	allowStale bool
	now        func() time.Time
}

var _ Cache[int] = (*LRU[int])(nil)

// NewLRU builds an LRU facade and subscribes it to its invalidation channels.
func NewLRU[V any](opts LRUOptions[V]) *LRU[V] {
	o, warns := NormalizeLRU(opts)
	c := &LRU[V]{
		max:        o.Max,
		maxSize:    o.MaxSize,
		sizeOf:     o.SizeFunc,
		ttl:        o.TTL,
		allowStale: o.AllowStale,
		now:        time.Now,
	}
	c.setup(o.Name, KindLRU, o.Disabled, o.Bus, o.Logger, o.Hooks)
	for _, w := range warns {
		c.log.Warn(w.String(), nil)
		c.hooks.DeprecatedOption("cache."+o.Name, w.Option, w.Replacement)
	}

	capacity := o.Max
	if capacity <= 0 {
		capacity = math.MaxInt32
	}
	// NewLRU only fails on a non-positive size.
	c.lru, _ = simplelru.NewLRU[string, *lruEntry[V]](capacity, func(_ string, e *lruEntry[V]) {
		c.total -= e.size
	})
	c.bind.subscribe(c.evictLocal, c.resetLocal)
	return c
}

func (c *LRU[V]) size(v V) int64 {
	if c.sizeOf == nil {
		return 1
	}
	return c.sizeOf(v)
}

func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V
	if !c.Enabled() {
		return zero, false
	}
	c.mu.Lock()
	v, ok := c.getLocked(key, true)
	c.mu.Unlock()
	c.count(ok)
	return v, ok
}

// getLocked returns a live value. An expired entry is dropped; with
// AllowStale its value is returned one last time.
func (c *LRU[V]) getLocked(key string, touch bool) (V, bool) {
	var zero V
	var (
		e  *lruEntry[V]
		ok bool
	)
	if touch {
		e, ok = c.lru.Get(key)
	} else {
		e, ok = c.lru.Peek(key)
	}
	if !ok {
		return zero, false
	}
	if e.expired(c.now()) {
		c.lru.Remove(key)
		if c.allowStale {
			return e.value, true
		}
		return zero, false
	}
	return e.value, true
}

func (c *LRU[V]) Peek(key string) (V, bool) {
	var zero V
	if !c.Enabled() {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok || (e.expired(c.now()) && !c.allowStale) {
		return zero, false
	}
	return e.value, true
}

func (c *LRU[V]) Set(key string, value V, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	e := &lruEntry[V]{value: value, size: c.size(value)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	if c.maxSize > 0 {
		if e.size > c.maxSize {
			c.log.Debug("value larger than cache, not stored", log.Fields{"key": key, "size": e.size})
			return
		}
		for c.total+e.size > c.maxSize {
			if _, _, ok := c.lru.RemoveOldest(); !ok {
				break
			}
		}
	}
	c.lru.Add(key, e)
	c.total += e.size
}

func (c *LRU[V]) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.bind.publishDel(keys)
	c.evictLocal(keys)
}

func (c *LRU[V]) Delete(keys ...string) { c.Del(keys...) }

func (c *LRU[V]) evictLocal(keys []string) {
	c.mu.Lock()
	for _, k := range keys {
		c.lru.Remove(k)
	}
	c.mu.Unlock()
}

func (c *LRU[V]) Reset() {
	c.bind.publishReset()
	c.resetLocal()
}

func (c *LRU[V]) Clear() { c.Reset() }

func (c *LRU[V]) resetLocal() {
	c.mu.Lock()
	c.lru.Purge()
	c.total = 0
	c.mu.Unlock()
	c.zeroCounters()
}

func (c *LRU[V]) GetUnCachedKeys(keys []string, out map[string]V) []string {
	return unCached(&c.core, func(k string) (V, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.getLocked(k, true)
	}, keys, out)
}

// Dump lists live entries, most recently used first.
func (c *LRU[V]) Dump() []Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys()
	now := c.now()
	out := make([]Entry[V], 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		e, ok := c.lru.Peek(keys[i])
		if !ok || (e.expired(now) && !c.allowStale) {
			continue
		}
		out = append(out, Entry[V]{Key: keys[i], Value: e.value, Size: e.size, ExpiresAt: e.expiresAt})
	}
	return out
}

func (c *LRU[V]) Length() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *LRU[V]) CalculatedSize() int64 { return c.Length() }
func (c *LRU[V]) Max() int              { return c.max }
func (c *LRU[V]) MaxSize() int64        { return c.maxSize }
func (c *LRU[V]) TTL() time.Duration    { return c.ttl }

func (c *LRU[V]) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRU[V]) Size() int { return c.ItemCount() }
