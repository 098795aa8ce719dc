package pubsub

import (
	"net"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/unkn0wn-root/forumdb/internal/wire"
)

func attachChild(t *testing.T, h *Hub, name string) *IPC {
	t.Helper()
	parent, child := net.Pipe()
	h.Attach(name, parent)
	b := NewIPC(child, IPCOptions{})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestHubRelaysToEveryChildIncludingSender(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	a := attachChild(t, h, "a")
	b := attachChild(t, h, "b")
	gotA := collect(a, "posts:lruCache:del")
	gotB := collect(b, "posts:lruCache:del")

	if err := a.Publish("posts:lruCache:del", []string{"p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, ch := range map[string]<-chan []string{"a": gotA, "b": gotB} {
		if got := await(t, ch); len(got) != 1 || got[0] != "p1" {
			t.Fatalf("%s got %v", name, got)
		}
	}
	if h.Len() != 2 {
		t.Fatalf("hub children=%d", h.Len())
	}
}

func TestIPCIgnoresOtherFrameKinds(t *testing.T) {
	parent, child := net.Pipe()
	b := NewIPC(child, IPCOptions{})
	defer b.Close()
	defer parent.Close()
	ch := collect(b, "e")

	go func() {
		_ = wire.WriteFrame(parent, wire.KindControl, []byte("ignored"))
		_ = wire.WriteFrame(parent, wire.KindPubSub, []byte(`{"event":"e","data":["x"]}`))
	}()
	if got := await(t, ch); len(got) != 1 || got[0] != "x" {
		t.Fatalf("got %v", got)
	}
}

func TestIPCMalformedFrameDropped(t *testing.T) {
	rh := &recHooks{}
	parent, child := net.Pipe()
	b := NewIPC(child, IPCOptions{Hooks: rh})
	defer b.Close()
	defer parent.Close()
	ch := collect(b, "e")

	go func() {
		_ = wire.WriteFrame(parent, wire.KindPubSub, []byte("{not json"))
		_ = wire.WriteFrame(parent, wire.KindPubSub, []byte(`{"data":[]}`))
		_ = wire.WriteFrame(parent, wire.KindPubSub, []byte(`{"event":"e","data":["ok"]}`))
	}()
	if got := await(t, ch); got[0] != "ok" {
		t.Fatalf("got %v", got)
	}
	if n := rh.malformedCount(); n != 2 {
		t.Fatalf("malformed=%d want 2", n)
	}
}

func TestIPCFallsBackToLocalAfterDisconnect(t *testing.T) {
	parent, child := net.Pipe()
	b := NewIPC(child, IPCOptions{})
	defer b.Close()
	_ = parent.Close()

	deadline := time.Now().Add(3 * time.Second)
	for b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("still connected after parent closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ch := collect(b, "e")
	if err := b.Publish("e", []string{"local"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := await(t, ch); got[0] != "local" {
		t.Fatalf("got %v", got)
	}
}

func TestHubDetachesClosedChild(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()
	a := attachChild(t, h, "a")
	b := attachChild(t, h, "b")
	gotB := collect(b, "e")

	_ = a.Close()
	deadline := time.Now().Add(3 * time.Second)
	for h.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("hub children=%d want 1", h.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := b.Publish("e", []string{"still"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := await(t, gotB); got[0] != "still" {
		t.Fatalf("got %v", got)
	}
}

func TestChannelFromEnv(t *testing.T) {
	t.Setenv(EnvIPCFDs, "")
	if _, ok, err := ChannelFromEnv(); ok || err != nil {
		t.Fatalf("unset: ok=%v err=%v", ok, err)
	}

	t.Setenv(EnvIPCFDs, "3")
	if _, _, err := ChannelFromEnv(); err == nil {
		t.Fatal("want error for a single descriptor")
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	rfd, err := syscall.Dup(int(r.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	wfd, err := syscall.Dup(int(w.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	t.Setenv(EnvIPCFDs, strconv.Itoa(rfd)+","+strconv.Itoa(wfd))
	rw, ok, err := ChannelFromEnv()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	defer rw.Close()

	// Both descriptors belong to one pipe, so the channel reads back its own frame.
	go func() { _ = wire.WriteFrame(rw, wire.KindPubSub, []byte("ping")) }()
	kind, payload, err := wire.NewReader(rw, 0).Next()
	if err != nil || kind != wire.KindPubSub || string(payload) != "ping" {
		t.Fatalf("kind=%d payload=%q err=%v", kind, payload, err)
	}
}
