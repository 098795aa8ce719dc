package cache

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type depHooks struct {
	hooks.Nop
	mu   sync.Mutex
	seen []string
}

func (d *depHooks) DeprecatedOption(_, option, replacement string) {
	d.mu.Lock()
	d.seen = append(d.seen, option+"->"+replacement)
	d.mu.Unlock()
}

// variants builds the same named cache twice on one bus for each facade kind.
func variants(t *testing.T, bus pubsub.Bus) map[string][2]Cache[post] {
	t.Helper()
	return map[string][2]Cache[post]{
		KindLRU: {
			NewLRU(LRUOptions[post]{Name: "posts", Max: 100, Bus: bus}),
			NewLRU(LRUOptions[post]{Name: "posts", Max: 100, Bus: bus}),
		},
		KindTTL: {
			NewTTL[post](TTLOptions{Name: "posts", TTL: time.Hour, Bus: bus}),
			NewTTL[post](TTLOptions{Name: "posts", TTL: time.Hour, Bus: bus}),
		},
	}
}

func TestCoherencyAcrossFacadesOnOneBus(t *testing.T) {
	for kind, pair := range variants(t, pubsub.NewLocal(nil, nil, nil)) {
		t.Run(kind, func(t *testing.T) {
			a, b := pair[0], pair[1]
			a.Set("k", post{ID: "1"}, 0)
			b.Set("k", post{ID: "1"}, 0)

			a.Del("k")
			if _, ok := a.Get("k"); ok {
				t.Fatal("A still holds k after its own Del")
			}
			if _, ok := b.Get("k"); ok {
				t.Fatal("B still holds k after A's Del")
			}
		})
	}
}

func TestResetBroadcastsAndZeroesCounters(t *testing.T) {
	for kind, pair := range variants(t, pubsub.NewLocal(nil, nil, nil)) {
		t.Run(kind, func(t *testing.T) {
			a, b := pair[0], pair[1]
			b.Set("x", post{ID: "x"}, 0)
			b.Get("x")
			b.Get("y")
			if b.Hits() != 1 || b.Misses() != 1 {
				t.Fatalf("hits=%d misses=%d", b.Hits(), b.Misses())
			}
			a.Clear()
			if b.ItemCount() != 0 || b.Hits() != 0 || b.Misses() != 0 {
				t.Fatalf("after reset: items=%d hits=%d misses=%d", b.ItemCount(), b.Hits(), b.Misses())
			}
		})
	}
}

func TestGetUnCachedKeysPopulatesOut(t *testing.T) {
	for kind, pair := range variants(t, pubsub.NewLocal(nil, nil, nil)) {
		t.Run(kind, func(t *testing.T) {
			c := pair[0]
			c.Set("b", post{ID: "b", Title: "cached"}, 0)

			out := map[string]post{}
			missing := c.GetUnCachedKeys([]string{"a", "b", "c"}, out)
			if !slices.Equal(missing, []string{"a", "c"}) {
				t.Fatalf("missing=%v", missing)
			}
			if len(out) != 1 || out["b"].Title != "cached" {
				t.Fatalf("out=%v", out)
			}
			if c.Hits() != 1 || c.Misses() != 2 {
				t.Fatalf("hits=%d misses=%d, each key must count once", c.Hits(), c.Misses())
			}
		})
	}
}

func TestPeekAndDumpDoNotCount(t *testing.T) {
	for kind, pair := range variants(t, pubsub.NewLocal(nil, nil, nil)) {
		t.Run(kind, func(t *testing.T) {
			c := pair[0]
			c.Set("p", post{ID: "p"}, 0)
			if v, ok := c.Peek("p"); !ok || v.ID != "p" {
				t.Fatalf("peek=%v,%v", v, ok)
			}
			c.Peek("absent")
			if d := c.Dump(); len(d) != 1 || d[0].Key != "p" {
				t.Fatalf("dump=%v", d)
			}
			if c.Hits() != 0 || c.Misses() != 0 {
				t.Fatalf("hits=%d misses=%d", c.Hits(), c.Misses())
			}
		})
	}
}

func TestDisabledCache(t *testing.T) {
	bus := pubsub.NewLocal(nil, nil, nil)
	for kind, pair := range variants(t, bus) {
		t.Run(kind, func(t *testing.T) {
			a, b := pair[0], pair[1]
			b.Set("k", post{ID: "k"}, 0)

			a.SetEnabled(false)
			a.Set("k", post{ID: "k"}, 0)
			if _, ok := a.Get("k"); ok {
				t.Fatal("disabled Get hit")
			}
			if _, ok := a.Peek("k"); ok {
				t.Fatal("disabled Peek hit")
			}
			keys := []string{"k", "z"}
			if got := a.GetUnCachedKeys(keys, map[string]post{}); !slices.Equal(got, keys) {
				t.Fatalf("disabled GetUnCachedKeys=%v", got)
			}
			if a.Hits() != 0 || a.Misses() != 0 {
				t.Fatal("disabled cache counted")
			}

			// invalidation still reaches everyone
			a.Del("k")
			if _, ok := b.Get("k"); ok {
				t.Fatal("Del from disabled cache not broadcast")
			}
		})
	}
}

func TestDelIsIdempotent(t *testing.T) {
	for kind, pair := range variants(t, pubsub.NewLocal(nil, nil, nil)) {
		t.Run(kind, func(t *testing.T) {
			c := pair[0]
			c.Del("never-set")
			c.Del()
			c.Delete("never-set", "again")
			if c.ItemCount() != 0 {
				t.Fatalf("items=%d", c.ItemCount())
			}
		})
	}
}

func TestChannelNames(t *testing.T) {
	if got := DelChannel("user", KindLRU); got != "user:lruCache:del" {
		t.Fatalf("got %q", got)
	}
	if got := ResetChannel("group", KindTTL); got != "group:ttlCache:reset" {
		t.Fatalf("got %q", got)
	}
}

func TestLRUCountEviction(t *testing.T) {
	c := NewLRU(LRUOptions[int]{Name: "n", Max: 2, Bus: pubsub.NewLocal(nil, nil, nil)})
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a") // a is now most recent
	c.Set("c", 3, 0)
	if _, ok := c.Peek("b"); ok {
		t.Fatal("least recently used entry survived")
	}
	if c.ItemCount() != 2 || c.Max() != 2 {
		t.Fatalf("items=%d max=%d", c.ItemCount(), c.Max())
	}
	d := c.Dump()
	if len(d) != 2 || d[0].Key != "c" || d[1].Key != "a" {
		t.Fatalf("dump order=%v", d)
	}
}

func TestLRUSizeAccounting(t *testing.T) {
	c := NewLRU(LRUOptions[string]{
		Name:     "s",
		MaxSize:  10,
		SizeFunc: func(s string) int64 { return int64(len(s)) },
		Bus:      pubsub.NewLocal(nil, nil, nil),
	})
	c.Set("a", "aaaa", 0)
	c.Set("b", "bbbb", 0)
	if c.CalculatedSize() != 8 {
		t.Fatalf("size=%d", c.CalculatedSize())
	}
	c.Set("c", "cccc", 0) // evicts a
	if _, ok := c.Peek("a"); ok {
		t.Fatal("a should have been evicted for size")
	}
	if c.Length() != 8 || c.MaxSize() != 10 {
		t.Fatalf("length=%d maxSize=%d", c.Length(), c.MaxSize())
	}

	c.Set("b", "bb", 0) // overwrite shrinks
	if c.Length() != 6 {
		t.Fatalf("after overwrite length=%d", c.Length())
	}

	c.Set("huge", "0123456789abc", 0)
	if _, ok := c.Peek("huge"); ok {
		t.Fatal("entry larger than MaxSize stored")
	}
	c.Del("b", "c")
	if c.Length() != 0 || c.Size() != 0 {
		t.Fatalf("after del length=%d size=%d", c.Length(), c.Size())
	}
}

func TestLRUTTLAndStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mk := func(stale bool) *LRU[int] {
		c := NewLRU(LRUOptions[int]{Name: "t", TTL: time.Minute, AllowStale: stale, Bus: pubsub.NewLocal(nil, nil, nil)})
		c.now = func() time.Time { return now }
		return c
	}

	fresh := mk(false)
	fresh.Set("a", 1, 0)
	fresh.Set("b", 2, 2*time.Minute)
	fresh.Set("c", 3, -1)
	now = now.Add(90 * time.Second)
	if _, ok := fresh.Get("a"); ok {
		t.Fatal("expired entry returned")
	}
	if v, ok := fresh.Get("b"); !ok || v != 2 {
		t.Fatal("per-entry ttl ignored")
	}
	if _, ok := fresh.Get("c"); !ok {
		t.Fatal("negative ttl must never expire")
	}
	if fresh.TTL() != time.Minute {
		t.Fatalf("ttl=%v", fresh.TTL())
	}

	now = time.Unix(1_700_000_000, 0)
	stale := mk(true)
	stale.Set("a", 1, 0)
	now = now.Add(2 * time.Minute)
	if v, ok := stale.Get("a"); !ok || v != 1 {
		t.Fatal("stale value not returned once")
	}
	if _, ok := stale.Get("a"); ok {
		t.Fatal("stale value returned twice")
	}
}

func TestNormalizeLRUIsPure(t *testing.T) {
	size := func(int) int64 { return 3 }
	in := LRUOptions[int]{Length: size, MaxAge: time.Second, Stale: true}
	out, warns := NormalizeLRU(in)

	if in.Length == nil || in.MaxAge != time.Second || !in.Stale {
		t.Fatal("input mutated")
	}
	if out.SizeFunc == nil || out.SizeFunc(0) != 3 || out.TTL != time.Second || !out.AllowStale {
		t.Fatalf("not mapped: %+v", out)
	}
	if out.Length != nil || out.MaxAge != 0 || out.Stale {
		t.Fatal("deprecated fields survived")
	}
	if len(warns) != 3 || warns[1].Option != "MaxAge" || warns[1].Replacement != "TTL" {
		t.Fatalf("warns=%v", warns)
	}

	// an explicit replacement wins over the deprecated field
	out, _ = NormalizeLRU(LRUOptions[int]{MaxAge: time.Second, TTL: time.Hour})
	if out.TTL != time.Hour {
		t.Fatalf("ttl=%v", out.TTL)
	}
	if _, warns := NormalizeLRU(LRUOptions[int]{}); len(warns) != 0 {
		t.Fatalf("warns=%v", warns)
	}
}

func TestNewLRUReportsDeprecations(t *testing.T) {
	h := &depHooks{}
	NewLRU(LRUOptions[int]{Name: "d", MaxAge: time.Second, Hooks: h, Bus: pubsub.NewLocal(nil, nil, nil)})
	if len(h.seen) != 1 || h.seen[0] != "MaxAge->TTL" {
		t.Fatalf("seen=%v", h.seen)
	}
}

func TestTTLExpiryAndProperties(t *testing.T) {
	c := NewTTL[string](TTLOptions{Name: "short", TTL: 20 * time.Millisecond, Bus: pubsub.NewLocal(nil, nil, nil)})
	c.Set("a", "x", 0)
	c.Set("b", "y", -1)
	if c.ItemCount() != 2 || c.Length() != 2 || c.Max() != 0 || c.TTL() != 20*time.Millisecond {
		t.Fatalf("items=%d length=%d max=%d ttl=%v", c.ItemCount(), c.Length(), c.Max(), c.TTL())
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expired entry returned")
	}
	if v, ok := c.Get("b"); !ok || v != "y" {
		t.Fatal("non-expiring entry lost")
	}
	d := c.Dump()
	if len(d) != 1 || d[0].Key != "b" || !d[0].ExpiresAt.IsZero() {
		t.Fatalf("dump=%v", d)
	}
}

func TestDefaultBusUsedWhenNoneGiven(t *testing.T) {
	t.Cleanup(func() { _ = pubsub.Reset() })
	_ = pubsub.Reset()
	a := NewLRU(LRUOptions[int]{Name: "shared", Max: 10})
	b := NewTTL[int](TTLOptions{Name: "shared"})
	a.Set("k", 1, 0)
	b.Set("k", 1, 0)

	// different kinds never share channels
	a.Del("k")
	if _, ok := b.Peek("k"); !ok {
		t.Fatal("lru del evicted a ttl cache entry")
	}
	if _, ok := a.Peek("k"); ok {
		t.Fatal("lru del did not evict locally")
	}
}
