package asynchook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
)

type recorder struct {
	hooks.Nop
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(ev string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) MalformedMessage(ch string, _ error) { r.add("malformed:" + ch) }
func (r *recorder) PublishFailed(ev string, _ error)    { r.add("publish:" + ev) }
func (r *recorder) PendingFlushed(ch string, _ int)     { r.add("flushed:" + ch) }
func (r *recorder) DeprecatedOption(c, o, _ string)     { r.add("deprecated:" + c + "." + o) }
func (r *recorder) CursorReleased(k string, _ int, _ time.Duration, _ error) {
	r.add("cursor:" + k)
}

func TestForwardsAndDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 16)

	h.MalformedMessage("db:0:pubsub_channel", errors.New("bad"))
	h.PublishFailed("post:lruCache:del", errors.New("down"))
	h.PendingFlushed("db:0:pubsub_channel", 3)
	h.CursorReleased("uid:1:posts", 2, time.Millisecond, nil)
	h.DeprecatedOption("redis", "db", "database")
	h.Close()

	want := []string{
		"malformed:db:0:pubsub_channel",
		"publish:post:lruCache:del",
		"flushed:db:0:pubsub_channel",
		"cursor:uid:1:posts",
		"deprecated:redis.db",
	}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, rec.events[i], want[i])
		}
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", h.Dropped())
	}
}

func TestDropsWhenFullOrClosed(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)

	// the worker takes one event and blocks; the queue holds one more
	h.PendingFlushed("a", 1)
	deadline := time.Now().Add(2 * time.Second)
	for len(h.q) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	h.PendingFlushed("b", 1)
	h.PendingFlushed("c", 1)
	if h.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", h.Dropped())
	}

	close(rec.block)
	h.Close()
	h.PendingFlushed("d", 1)
	if h.Dropped() != 2 {
		t.Fatalf("dropped after close = %d, want 2", h.Dropped())
	}
	if len(rec.events) != 2 {
		t.Fatalf("events = %v, want a and b", rec.events)
	}
}

func TestCloseIdempotent(t *testing.T) {
	h := New(nil, 0, 0)
	h.Close()
	h.Close()
}
