package pubsub

import (
	"errors"
	"io"
	"sync"

	"github.com/unkn0wn-root/forumdb/internal/wire"
	"github.com/unkn0wn-root/forumdb/log"
)

// Hub is the parent side of a single-host cluster. Every pub/sub frame read
// from an attached child is relayed to all attached children, the sender
// included, so each process applies its own publishes through the same path.
type Hub struct {
	log        log.Logger
	maxPayload int
	queueLen   int

	mu       sync.Mutex
	children map[*hubChild]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// HubOptions configure NewHub.
type HubOptions struct {
	Logger     log.Logger
	MaxPayload int // per-frame limit; 0 => wire.DefaultMaxPayload
	QueueLen   int // per-child outbound queue; 0 => 1024
}

type hubChild struct {
	name string
	rw   io.ReadWriteCloser
	out  chan []byte
	once sync.Once
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{
		log:        log.OrNop(opts.Logger),
		maxPayload: opts.MaxPayload,
		queueLen:   coalesce(opts.QueueLen, 1024),
		children:   make(map[*hubChild]struct{}),
	}
}

// Attach starts relaying for one child channel. The channel is closed when
// the child disconnects or the hub closes.
func (h *Hub) Attach(name string, rw io.ReadWriteCloser) {
	c := &hubChild{name: name, rw: rw, out: make(chan []byte, h.queueLen)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = rw.Close()
		return
	}
	h.children[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Len reports the number of attached children.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.children)
}

// Broadcast sends one frame to every attached child. A child whose queue is
// full misses the frame.
func (h *Hub) Broadcast(kind byte, payload []byte) {
	frame := wire.EncodeFrame(kind, payload)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.children {
		select {
		case c.out <- frame:
		default:
			h.log.Warn("ipc hub dropped frame, child queue full", log.Fields{"child": c.name})
		}
	}
}

func (h *Hub) readLoop(c *hubChild) {
	defer h.wg.Done()
	defer h.detach(c)
	fr := wire.NewReader(c.rw, h.maxPayload)
	for {
		kind, payload, err := fr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Warn("ipc hub read failed", log.Fields{"child": c.name, "err": err})
			}
			return
		}
		if kind != wire.KindPubSub {
			continue
		}
		h.Broadcast(kind, payload)
	}
}

func (h *Hub) writeLoop(c *hubChild) {
	defer h.wg.Done()
	for frame := range c.out {
		if _, err := c.rw.Write(frame); err != nil {
			h.log.Warn("ipc hub write failed", log.Fields{"child": c.name, "err": err})
			h.detach(c)
			// drain so Broadcast never blocks on this child
			for range c.out {
			}
			return
		}
	}
}

func (h *Hub) detach(c *hubChild) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.children, c)
		close(c.out)
		h.mu.Unlock()
		_ = c.rw.Close()
	})
}

// Close detaches every child and waits for the relay goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	cs := make([]*hubChild, 0, len(h.children))
	for c := range h.children {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	for _, c := range cs {
		h.detach(c)
	}
	h.wg.Wait()
	return nil
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
