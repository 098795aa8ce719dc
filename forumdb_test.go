package forumdb

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/forumdb/cache"
	"github.com/unkn0wn-root/forumdb/config"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig(t *testing.T, c config.Config) config.Config {
	t.Helper()
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(t.TempDir(), "forum.db")
	}
	c, _ = config.Normalize(c)
	return c
}

func TestInitStandalone(t *testing.T) {
	ctx := context.Background()
	dep, err := Init(ctx, testConfig(t, config.Config{}), Options{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer dep.Close()

	if dep.Topology != pubsub.Standalone {
		t.Fatalf("topology %v", dep.Topology)
	}
	if err := dep.Store.Add(ctx, "tid:1:posts", 10, "pid:1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if n, err := dep.Store.Card(ctx, "tid:1:posts"); err != nil || n != 1 {
		t.Fatalf("card %d %v", n, err)
	}

	a := NewLRU(dep, cache.LRUOptions[string]{Name: "post", Max: 10})
	b := NewLRU(dep, cache.LRUOptions[string]{Name: "post", Max: 10})
	a.Set("pid:1", "hello", 0)
	b.Set("pid:1", "hello", 0)
	a.Del("pid:1")
	if _, ok := b.Get("pid:1"); ok {
		t.Fatal("b kept an entry a deleted")
	}

	tc := NewTTL[int](dep, cache.TTLOptions{Name: "counts", TTL: time.Minute})
	tc.Set("x", 1, 0)
	tc.Reset()
	if tc.Length() != 0 {
		t.Fatal("reset left entries")
	}
}

func TestInitErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Init(ctx, testConfig(t, config.Config{Cluster: true}), Options{}); !errors.Is(err, pubsub.ErrNoTransport) {
		t.Fatalf("want ErrNoTransport, got %v", err)
	}
	if _, err := Init(ctx, testConfig(t, config.Config{PubSub: config.PubSub{Codec: "xml"}}), Options{}); err == nil {
		t.Fatal("want codec error")
	}
	c := testConfig(t, config.Config{})
	c.Database.Backend = "postgres"
	if _, err := Init(ctx, c, Options{}); err == nil {
		t.Fatal("want error for unlinked backend")
	}
}

func TestInitMultiHostCoherency(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t, config.Config{Cluster: true, Redis: &config.Redis{}, PubSub: config.PubSub{Codec: "msgpack"}})

	var deps [2]*Deployment
	var caches [2]*cache.LRU[string]
	for i := range deps {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
		t.Cleanup(func() { _ = client.Close() })
		dep, err := Init(ctx, cfg, Options{Redis: client, NoStore: true})
		if err != nil {
			t.Fatalf("init %d: %v", i, err)
		}
		defer dep.Close()
		if dep.Topology != pubsub.MultiHostCluster || dep.Store != nil {
			t.Fatalf("deployment %+v", dep)
		}
		deps[i] = dep
		caches[i] = NewLRU(dep, cache.LRUOptions[string]{Name: "user", Max: 10})
	}
	eventually(t, "both subscribers", func() bool {
		return mr.PubSubNumSub(pubsub.RedisChannel(0))[pubsub.RedisChannel(0)] == 2
	})

	caches[0].Set("uid:1", "alice", 0)
	caches[1].Set("uid:1", "alice", 0)
	caches[0].Del("uid:1")
	eventually(t, "remote eviction", func() bool {
		_, ok := caches[1].Peek("uid:1")
		return !ok
	})
}

func TestInitSingleHostCoherency(t *testing.T) {
	ctx := context.Background()
	hub := pubsub.NewHub(pubsub.HubOptions{})
	defer hub.Close()

	cfg := testConfig(t, config.Config{Cluster: true, SingleHostCluster: true})
	var caches [2]*cache.TTL[string]
	for i := range caches {
		parent, child := net.Pipe()
		hub.Attach("worker", parent)
		dep, err := Init(ctx, cfg, Options{Channel: child, NoStore: i == 1})
		if err != nil {
			t.Fatalf("init %d: %v", i, err)
		}
		defer dep.Close()
		if dep.Topology != pubsub.SingleHostCluster {
			t.Fatalf("topology %v", dep.Topology)
		}
		caches[i] = NewTTL[string](dep, cache.TTLOptions{Name: "topic"})
	}

	caches[0].Set("tid:9", "t", 0)
	caches[1].Set("tid:9", "t", 0)
	caches[1].Del("tid:9")
	eventually(t, "eviction through the hub", func() bool {
		_, ok := caches[0].Peek("tid:9")
		return !ok
	})
}

func TestCloseErrorUnwrap(t *testing.T) {
	bus, store := errors.New("bus"), errors.New("store")
	err := error(&CloseError{BusErr: bus, StoreErr: store})
	if !errors.Is(err, bus) || !errors.Is(err, store) {
		t.Fatalf("unwrap lost an error: %v", err)
	}
	if (&CloseError{StoreErr: store}).Error() != "forumdb: close: store failed: store" {
		t.Fatalf("message %q", (&CloseError{StoreErr: store}).Error())
	}
}
