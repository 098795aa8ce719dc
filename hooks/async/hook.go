// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    MalformedEvery: 10, // sample logs: ~every 10th malformed payload
//	})
//
//	h := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer h.Close()
//
//	bus, _, _ := pubsub.New(ctx, pubsub.Options{Hooks: h})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
)

// Hooks forwards events to inner on a small worker pool.
// Events are dropped, never blocked on, when the queue is full.
type Hooks struct {
	inner hooks.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

func New(inner hooks.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: hooks.OrNop(inner), q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full
// or the sink was closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost the race with Close: send on closed channel
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) MalformedMessage(ch string, err error) {
	h.try(func() { h.inner.MalformedMessage(ch, err) })
}
func (h *Hooks) PublishFailed(ev string, err error) { h.try(func() { h.inner.PublishFailed(ev, err) }) }
func (h *Hooks) PendingFlushed(ch string, n int)    { h.try(func() { h.inner.PendingFlushed(ch, n) }) }
func (h *Hooks) CursorReleased(k string, n int, held time.Duration, err error) {
	h.try(func() { h.inner.CursorReleased(k, n, held, err) })
}
func (h *Hooks) DeprecatedOption(c, o, r string) {
	h.try(func() { h.inner.DeprecatedOption(c, o, r) })
}
