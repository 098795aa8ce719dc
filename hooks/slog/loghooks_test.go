package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newHooks(opts Options) (*Hooks, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), buf
}

func TestSampling(t *testing.T) {
	h, buf := newHooks(Options{MalformedEvery: 3})
	for i := 0; i < 9; i++ {
		h.MalformedMessage("db:0:pubsub_channel", errors.New("bad"))
	}
	if n := strings.Count(buf.String(), "malformed_message"); n != 3 {
		t.Fatalf("logged %d malformed messages, want 3", n)
	}

	buf.Reset()
	for i := 0; i < 4; i++ {
		h.PublishFailed("post:lruCache:del", errors.New("down"))
	}
	if n := strings.Count(buf.String(), "publish_failed"); n != 4 {
		t.Fatalf("logged %d publish failures, want 4", n)
	}
}

func TestCursorKeyRedacted(t *testing.T) {
	h, buf := newHooks(Options{})
	h.CursorReleased("uid:1:posts", 4, time.Second, nil)
	out := buf.String()
	if strings.Contains(out, "uid:1:posts") {
		t.Fatalf("key leaked: %s", out)
	}
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("clean release should log at debug: %s", out)
	}

	buf.Reset()
	h, buf = newHooks(Options{Redact: func(k string) string { return "k" + k[len(k)-5:] }})
	h.CursorReleased("uid:1:posts", 1, time.Second, errors.New("cancelled"))
	out = buf.String()
	if !strings.Contains(out, `"key":"kposts"`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("unexpected log: %s", out)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.MalformedMessage("c", nil)
	h.PublishFailed("e", nil)
	h.PendingFlushed("c", 1)
	h.CursorReleased("k", 1, 0, nil)
	h.DeprecatedOption("redis", "db", "database")
}

func TestDeprecatedOption(t *testing.T) {
	h, buf := newHooks(Options{})
	h.DeprecatedOption("lruCache", "maxAge", "ttl")
	out := buf.String()
	for _, want := range []string{`"component":"lruCache"`, `"option":"maxAge"`, `"replacement":"ttl"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
