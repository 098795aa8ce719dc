package slog

import (
	"bytes"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/forumdb/log"
)

func TestFieldsSortedAndErrorsRendered(t *testing.T) {
	buf := &bytes.Buffer{}
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(buf, nil))}
	l.Warn("publish failed", log.Fields{"event": "post:lruCache:del", "err": errors.New("redis down"), "attempt": 1})

	out := buf.String()
	if !strings.Contains(out, `"err":"redis down"`) {
		t.Fatalf("error not rendered: %s", out)
	}
	a, e, r := strings.Index(out, `"attempt"`), strings.Index(out, `"err"`), strings.Index(out, `"event"`)
	if !(a < e && e < r) {
		t.Fatalf("fields out of order: %s", out)
	}
}

func TestDisabledLevelSkipped(t *testing.T) {
	buf := &bytes.Buffer{}
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(buf, &stdslog.HandlerOptions{Level: stdslog.LevelWarn}))}
	l.Debug("quiet", log.Fields{"k": "v"})
	l.Info("quiet", nil)
	if buf.Len() != 0 {
		t.Fatalf("logged below level: %s", buf.String())
	}
}
