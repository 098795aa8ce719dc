package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/forumdb/codec"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
)

// RedisChannel is the single channel all events travel on for one logical
// database index.
func RedisChannel(database int) string {
	return fmt.Sprintf("db:%d:pubsub_channel", database)
}

// RedisOptions configure NewRedis.
type RedisOptions struct {
	Codec  codec.Codec
	Logger log.Logger
	Hooks  hooks.Hooks

	// Database selects the channel (see RedisChannel).
	Database int

	// PublishTimeout bounds one PUBLISH round trip. 0 => 5s.
	PublishTimeout time.Duration

	// MaxPending caps publishes queued before the subscription is confirmed.
	// The oldest entry is dropped on overflow. 0 => 1024.
	MaxPending int

	// CloseClient closes the client on Close. Leave false when the client is
	// shared with other components.
	CloseClient bool
}

// Redis is the multi-host cluster topology. Every process subscribes to the
// same channel; Publish sends the encoded {event, data} envelope, and each
// subscriber (the publisher included) re-emits it locally.
type Redis struct {
	base

	rdb            redis.UniversalClient
	channel        string
	publishTimeout time.Duration
	maxPending     int
	closeClient    bool

	qmu       sync.Mutex
	ready     bool
	pending   [][]byte
	readyCh   chan struct{}
	readyOnce sync.Once

	ps   *redis.PubSub
	done chan struct{}
}

var _ Bus = (*Redis)(nil)

// NewRedis subscribes to the database channel and returns immediately.
// Publishes issued before the subscription is confirmed are queued and
// flushed in order once it is.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	b := newRedis(client, opts)
	b.start()
	return b
}

func newRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	b := &Redis{
		rdb:            client,
		channel:        RedisChannel(opts.Database),
		publishTimeout: coalesce(opts.PublishTimeout, 5*time.Second),
		maxPending:     coalesce(opts.MaxPending, 1024),
		closeClient:    opts.CloseClient,
		readyCh:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	b.init(opts.Codec, opts.Logger, opts.Hooks)
	return b
}

func (b *Redis) start() {
	b.ps = b.rdb.Subscribe(context.Background(), b.channel)
	go b.receive(b.ps.ChannelWithSubscriptions())
}

// Channel returns the channel this bus publishes and listens on.
func (b *Redis) Channel() string { return b.channel }

func (b *Redis) Publish(event string, data any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	payload, err := b.encodeEnvelope(event, data)
	if err != nil {
		b.publishFailed(event, err)
		return err
	}

	b.qmu.Lock()
	if !b.ready {
		if len(b.pending) >= b.maxPending {
			b.pending = b.pending[1:]
			b.log.Warn("pubsub pending queue full, dropping oldest", log.Fields{"channel": b.channel})
		}
		b.pending = append(b.pending, payload)
		b.qmu.Unlock()
		return nil
	}
	b.qmu.Unlock()

	if err := b.send(payload); err != nil {
		err = &PublishError{Event: event, Err: err}
		b.publishFailed(event, err)
		return err
	}
	return nil
}

func (b *Redis) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

func (b *Redis) receive(ch <-chan any) {
	defer close(b.done)
	for msg := range ch {
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" && m.Channel == b.channel {
				b.flush()
			}
		case *redis.Message:
			if mm, ok := b.decodeEnvelope(m.Channel, []byte(m.Payload)); ok {
				b.emit(mm)
			}
		}
	}
}

// flush marks the subscription ready and sends whatever was queued. It runs
// again after go-redis resubscribes; by then the queue is empty.
func (b *Redis) flush() {
	b.qmu.Lock()
	b.ready = true
	queued := b.pending
	b.pending = nil
	b.qmu.Unlock()
	b.readyOnce.Do(func() { close(b.readyCh) })

	if len(queued) == 0 {
		return
	}
	for _, p := range queued {
		if err := b.send(p); err != nil {
			b.publishFailed("", &PublishError{Err: err})
		}
	}
	b.log.Debug("pubsub pending queue flushed", log.Fields{"channel": b.channel, "count": len(queued)})
	b.hooks.PendingFlushed(b.channel, len(queued))
}

// WaitReady blocks until the subscription is confirmed. Short-lived
// publishers call it so nothing is left queued at Close.
func (b *Redis) WaitReady(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	select {
	case <-b.readyCh:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Redis) pendingLen() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.pending)
}

// Close unsubscribes and waits for the receiver. Queued publishes that never
// reached Redis are discarded.
func (b *Redis) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if b.ps != nil {
		err = b.ps.Close()
		<-b.done
	}
	if n := b.pendingLen(); n > 0 {
		b.log.Warn("pubsub closed with unsent messages", log.Fields{"channel": b.channel, "count": n})
	}
	if b.closeClient {
		if cerr := b.rdb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
