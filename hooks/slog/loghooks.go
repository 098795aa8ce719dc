package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	MalformedEvery     uint64
	PublishFailedEvery uint64
	// Optional key redactor for cursor keys. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	malformedCtr atomic.Uint64
	publishCtr   atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) MalformedMessage(channel string, err error) {
	if h.l == nil || !sample(h.opts.MalformedEvery, &h.malformedCtr) {
		return
	}
	h.l.Warn("forumdb.pubsub.malformed_message",
		"channel", channel,
		"err", err)
}

func (h *Hooks) PublishFailed(event string, err error) {
	if h.l == nil || !sample(h.opts.PublishFailedEvery, &h.publishCtr) {
		return
	}
	h.l.Error("forumdb.pubsub.publish_failed",
		"event", event,
		"err", err)
}

func (h *Hooks) PendingFlushed(channel string, count int) {
	if h.l == nil {
		return
	}
	h.l.Info("forumdb.pubsub.pending_flushed",
		"channel", channel,
		"count", count)
}

func (h *Hooks) CursorReleased(key string, batches int, held time.Duration, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("forumdb.zset.cursor_released",
			"key", h.redact(key),
			"batches", batches,
			"held", held,
			"err", err)
		return
	}
	h.l.Debug("forumdb.zset.cursor_released",
		"key", h.redact(key),
		"batches", batches,
		"held", held)
}

func (h *Hooks) DeprecatedOption(component, option, replacement string) {
	if h.l == nil {
		return
	}
	h.l.Warn("forumdb.deprecated_option",
		"component", component,
		"option", option,
		"replacement", replacement)
}
