package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

// TTLOptions configure NewTTL.
type TTLOptions struct {
	Name string
	// TTL is the default lifetime. 0 keeps entries until deleted.
	TTL time.Duration
	// CleanupInterval is how often expired entries are purged in the
	// background. 0 => TTL; no janitor runs when both are 0.
	CleanupInterval time.Duration

	Disabled bool

	Bus    pubsub.Bus // nil => pubsub.Default()
	Logger log.Logger
	Hooks  hooks.Hooks
}

// TTL is the expiry-only variant. The entry count is unbounded and every
// entry has size 1.
type TTL[V any] struct {
	core
	store *gocache.Cache
	ttl   time.Duration
}

var _ Cache[int] = (*TTL[int])(nil)

func NewTTL[V any](opts TTLOptions) *TTL[V] {
	if opts.Name == "" {
		opts.Name = "ttl"
	}
	def := opts.TTL
	if def <= 0 {
		def = gocache.NoExpiration
	}
	cleanup := opts.CleanupInterval
	if cleanup == 0 && opts.TTL > 0 {
		cleanup = opts.TTL
	}
	c := &TTL[V]{store: gocache.New(def, cleanup), ttl: opts.TTL}
	c.setup(opts.Name, KindTTL, opts.Disabled, opts.Bus, opts.Logger, opts.Hooks)
	c.bind.subscribe(c.evictLocal, c.resetLocal)
	return c
}

func (c *TTL[V]) lookup(key string) (V, bool) {
	var zero V
	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}

func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if !c.Enabled() {
		return zero, false
	}
	v, ok := c.lookup(key)
	c.count(ok)
	return v, ok
}

func (c *TTL[V]) Peek(key string) (V, bool) {
	var zero V
	if !c.Enabled() {
		return zero, false
	}
	return c.lookup(key)
}

func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	switch {
	case ttl == 0:
		ttl = gocache.DefaultExpiration
	case ttl < 0:
		ttl = gocache.NoExpiration
	}
	c.store.Set(key, value, ttl)
}

func (c *TTL[V]) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.bind.publishDel(keys)
	c.evictLocal(keys)
}

func (c *TTL[V]) Delete(keys ...string) { c.Del(keys...) }

func (c *TTL[V]) evictLocal(keys []string) {
	for _, k := range keys {
		c.store.Delete(k)
	}
}

func (c *TTL[V]) Reset() {
	c.bind.publishReset()
	c.resetLocal()
}

func (c *TTL[V]) Clear() { c.Reset() }

func (c *TTL[V]) resetLocal() {
	c.store.Flush()
	c.zeroCounters()
}

func (c *TTL[V]) GetUnCachedKeys(keys []string, out map[string]V) []string {
	return unCached(&c.core, c.lookup, keys, out)
}

// Dump lists unexpired entries in no particular order.
func (c *TTL[V]) Dump() []Entry[V] {
	items := c.store.Items()
	out := make([]Entry[V], 0, len(items))
	for k, it := range items {
		v, ok := it.Object.(V)
		if !ok {
			continue
		}
		e := Entry[V]{Key: k, Value: v, Size: 1}
		if it.Expiration > 0 {
			e.ExpiresAt = time.Unix(0, it.Expiration)
		}
		out = append(out, e)
	}
	return out
}

func (c *TTL[V]) Length() int64         { return int64(c.store.ItemCount()) }
func (c *TTL[V]) CalculatedSize() int64 { return c.Length() }
func (c *TTL[V]) Max() int              { return 0 }
func (c *TTL[V]) MaxSize() int64        { return 0 }
func (c *TTL[V]) ItemCount() int        { return c.store.ItemCount() }
func (c *TTL[V]) Size() int             { return c.ItemCount() }
func (c *TTL[V]) TTL() time.Duration    { return c.ttl }
